package repository

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/coursekart/internal/domain/cart"
	"github.com/xenking/coursekart/internal/domain/course"
	"github.com/xenking/coursekart/internal/domain/order"
)

const (
	getCourseByIDSQL = `SELECT id, title, price, available FROM courses WHERE id = $1`

	hasEnrollmentSQL = `SELECT EXISTS (
		SELECT 1 FROM enrollments WHERE user_id = $1 AND course_id = $2)`

	grantEnrollmentSQL = `INSERT INTO enrollments (user_id, course_id)
		VALUES ($1, $2) ON CONFLICT DO NOTHING`

	adjustCountSQL = `UPDATE courses
		SET enrollment_count = GREATEST(enrollment_count + $2, 0) WHERE id = $1`
)

var (
	_ course.Catalog       = (*CourseRepository)(nil)
	_ cart.PurchaseHistory = (*CourseRepository)(nil)
	_ order.Enrollment     = (*CourseRepository)(nil)
)

// CourseRepository serves the catalog, purchase-history, and enrollment ports
// from the courses and enrollments tables. In a larger deployment these are
// separate services; here they share the engine's database.
type CourseRepository struct {
	pool *pgxpool.Pool
}

// NewCourseRepository returns a CourseRepository that uses the given pool.
func NewCourseRepository(pool *pgxpool.Pool) *CourseRepository {
	return &CourseRepository{pool: pool}
}

// GetCourse returns a catalog entry. Returns course.ErrNotFound when absent.
func (r *CourseRepository) GetCourse(ctx context.Context, id string) (*course.Course, error) {
	var c course.Course
	err := r.pool.QueryRow(ctx, getCourseByIDSQL, id).Scan(
		&c.ID, &c.Title, &c.Price, &c.Available,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, course.ErrNotFound
		}
		return nil, storageErr("get course", err)
	}
	return &c, nil
}

// HasPurchased reports whether the user already holds an enrollment for the
// course.
func (r *CourseRepository) HasPurchased(ctx context.Context, userID, courseID string) (bool, error) {
	var owned bool
	err := r.pool.QueryRow(ctx, hasEnrollmentSQL, userID, courseID).Scan(&owned)
	if err != nil {
		return false, storageErr("check enrollment", err)
	}
	return owned, nil
}

// Grant records the user's enrollment; granting twice is a no-op.
func (r *CourseRepository) Grant(ctx context.Context, userID, courseID string) error {
	_, err := r.pool.Exec(ctx, grantEnrollmentSQL, userID, courseID)
	if err != nil {
		return storageErr("grant enrollment", err)
	}
	return nil
}

// AdjustCount moves the course's enrollment counter by delta, flooring at
// zero.
func (r *CourseRepository) AdjustCount(ctx context.Context, courseID string, delta int) error {
	_, err := r.pool.Exec(ctx, adjustCountSQL, courseID, delta)
	if err != nil {
		return storageErr("adjust enrollment count", err)
	}
	return nil
}
