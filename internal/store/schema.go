package store

import (
	"entgo.io/ent/dialect/sql/schema"
	"entgo.io/ent/schema/field"
)

// Collection names.
const (
	CollectionCurricula       = "curricula"
	CollectionLessonTemplates = "lesson_templates"
	CollectionEnrollments     = "enrollments"
	CollectionMastery         = "mastery_records"
	CollectionRoutines        = "routines"
)

// Tables lists every collection table managed by the migrator. Collections
// keyed by (student_id, course_id) carry a unique index on that pair; shared
// course documents (curricula, lesson templates) leave student_id empty.
var Tables = []*schema.Table{
	documentTable(CollectionCurricula, false),
	documentTable(CollectionLessonTemplates, false),
	documentTable(CollectionEnrollments, true),
	documentTable(CollectionMastery, true),
	documentTable(CollectionRoutines, true),
}

// Column names shared by every collection table.
const (
	colID        = "id"
	colStudentID = "student_id"
	colCourseID  = "course_id"
	colData      = "data"
	colRev       = "rev"
	colCreatedAt = "created_at"
	colUpdatedAt = "updated_at"
)

var documentColumns = []string{colID, colStudentID, colCourseID, colData, colRev, colCreatedAt, colUpdatedAt}

func documentTable(name string, uniqueKey bool) *schema.Table {
	columns := []*schema.Column{
		{Name: colID, Type: field.TypeString, Unique: true},
		{Name: colStudentID, Type: field.TypeString, Default: ""},
		{Name: colCourseID, Type: field.TypeString},
		{Name: colData, Type: field.TypeString, Size: 2147483647},
		{Name: colRev, Type: field.TypeInt64, Default: 1},
		{Name: colCreatedAt, Type: field.TypeString},
		{Name: colUpdatedAt, Type: field.TypeString},
	}
	return &schema.Table{
		Name:       name,
		Columns:    columns,
		PrimaryKey: []*schema.Column{columns[0]},
		Indexes: []*schema.Index{
			{
				Name:    name + "_student_id_course_id",
				Unique:  uniqueKey,
				Columns: []*schema.Column{columns[1], columns[2]},
			},
		},
	}
}
