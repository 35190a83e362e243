package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Course carries the fields voucher resolution and catalog views need.
// Price is in minor currency units.
type Course struct {
	ID           uuid.UUID
	Title        string
	Price        int64
	InstructorID uuid.UUID
	CategoryIDs  []uuid.UUID
	CreatedAt    time.Time
}

// Category is a course grouping.
type Category struct {
	ID   uuid.UUID
	Name string
}

const courseSelect = `SELECT c.course_id, c.title, c.price, c.instructor_id, c.created_at,
		COALESCE(array_agg(cc.category_id) FILTER (WHERE cc.category_id IS NOT NULL), '{}') AS category_ids
	FROM courses c
	LEFT JOIN course_categories cc ON cc.course_id = c.course_id`

// GetCoursesByIDs resolves the given course ids, including the owning
// instructor and category memberships. Unknown ids are silently omitted.
func (s *Store) GetCoursesByIDs(ctx context.Context, ids []uuid.UUID) ([]Course, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	q := courseSelect + ` WHERE c.course_id = ANY($1) GROUP BY c.course_id`
	return s.queryCourses(ctx, q, ids)
}

// GetCourseByID fetches a single course with its category memberships.
func (s *Store) GetCourseByID(ctx context.Context, id uuid.UUID) (Course, error) {
	courses, err := s.GetCoursesByIDs(ctx, []uuid.UUID{id})
	if err != nil {
		return Course{}, err
	}
	if len(courses) == 0 {
		return Course{}, ErrNoRows
	}
	return courses[0], nil
}

// ListCourses returns the catalog page ordered by newest first.
func (s *Store) ListCourses(ctx context.Context, limit, offset int) ([]Course, error) {
	q := courseSelect + ` GROUP BY c.course_id ORDER BY c.created_at DESC LIMIT $1 OFFSET $2`
	return s.queryCourses(ctx, q, limit, offset)
}

// CountCourses returns the catalog size.
func (s *Store) CountCourses(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM courses`).Scan(&n)
	return n, err
}

// ListCourseIDsByInstructor returns ids of every course the instructor owns.
func (s *Store) ListCourseIDsByInstructor(ctx context.Context, instructorID uuid.UUID) ([]uuid.UUID, error) {
	return s.queryIDs(ctx, `SELECT course_id FROM courses WHERE instructor_id=$1`, instructorID)
}

// ListCourseIDsInCategory returns ids of every course inside the category.
func (s *Store) ListCourseIDsInCategory(ctx context.Context, categoryID uuid.UUID) ([]uuid.UUID, error) {
	return s.queryIDs(ctx, `SELECT course_id FROM course_categories WHERE category_id=$1`, categoryID)
}

// ListCategories returns all categories ordered by name.
func (s *Store) ListCategories(ctx context.Context) ([]Category, error) {
	rows, err := s.db.Query(ctx, `SELECT category_id, name FROM categories ORDER BY name ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Category
	for rows.Next() {
		var c Category
		if err := rows.Scan(&c.ID, &c.Name); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) queryCourses(ctx context.Context, q string, args ...any) ([]Course, error) {
	rows, err := s.db.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Course
	for rows.Next() {
		var c Course
		if err := rows.Scan(&c.ID, &c.Title, &c.Price, &c.InstructorID, &c.CreatedAt, &c.CategoryIDs); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) queryIDs(ctx context.Context, q string, args ...any) ([]uuid.UUID, error) {
	rows, err := s.db.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
