package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/marwahaha/snap-server/internal/access"
)

var (
	// ErrAbsent means a removal targeted an entity not present in the set.
	ErrAbsent = errors.New("not present in set")
	// ErrLastTeacher means a removal would leave a course with no teachers.
	ErrLastTeacher = errors.New("course must retain at least one teacher")
	// ErrNotAllowed means the acting user failed the mutation's precondition
	// when it was re-checked inside the mutation's transaction.
	ErrNotAllowed = errors.New("actor failed mutation precondition")
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ---- users ----

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (user_name, password_hash, email)
		VALUES ($1, $2, NULLIF($3, ''))
	`, user.UserName, user.PasswordHash, user.Email)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUser(ctx context.Context, userName string) (User, error) {
	var user User
	var email sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT user_name, password_hash, COALESCE(email, '')
		FROM users WHERE user_name=$1
	`, userName).Scan(&user.UserName, &user.PasswordHash, &email)
	if err != nil {
		return User{}, err
	}
	user.Email = email.String
	return user, nil
}

func (s *PostgresStore) UserExists(ctx context.Context, userName string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE user_name=$1)`, userName).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check user: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) UpdateUserPassword(ctx context.Context, userName, passwordHash string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET password_hash=$2 WHERE user_name=$1`, userName, passwordHash)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ---- projects ----

// InsertProject records the project with its creator as both owner and
// member, in one transaction.
func (s *PostgresStore) InsertProject(ctx context.Context, project Project, owner string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert project: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projects (proj_id, head_id, shared_name, public)
		VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), $4)
	`, project.ProjID, project.HeadID, project.SharedName, project.Public); err != nil {
		return fmt.Errorf("insert project: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO project_owners (proj_id, user_name) VALUES ($1, $2)
	`, project.ProjID, owner); err != nil {
		return fmt.Errorf("insert project owner: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO shares (proj_id, user_name) VALUES ($1, $2)
	`, project.ProjID, owner); err != nil {
		return fmt.Errorf("insert project member: %w", err)
	}
	return tx.Commit()
}

func (s *PostgresStore) GetProject(ctx context.Context, projID string) (Project, error) {
	var project Project
	var headID, sharedName sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT proj_id, head_id, shared_name, public
		FROM projects WHERE proj_id=$1
	`, projID).Scan(&project.ProjID, &headID, &sharedName, &project.Public)
	if err != nil {
		return Project{}, err
	}
	project.HeadID = headID.String
	project.SharedName = sharedName.String
	return project, nil
}

func (s *PostgresStore) DeleteProject(ctx context.Context, projID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM projects WHERE proj_id=$1`, projID)
	if err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// UpdateProjectHead advances the head pointer. Last write wins on concurrent
// saves against the same project; there is no version check here.
func (s *PostgresStore) UpdateProjectHead(ctx context.Context, projID, headID, sharedName string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE projects
		SET head_id=$2, shared_name=COALESCE(NULLIF($3, ''), shared_name)
		WHERE proj_id=$1
	`, projID, headID, sharedName)
	if err != nil {
		return fmt.Errorf("update project head: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) SetProjectPublic(ctx context.Context, projID string, public bool, actor string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin set project public: %w", err)
	}
	defer tx.Rollback()

	if err := lockProject(ctx, tx, projID); err != nil {
		return err
	}
	writer, err := projectWriter(ctx, tx, projID, actor)
	if err != nil {
		return fmt.Errorf("check writer: %w", err)
	}
	if !writer {
		return ErrNotAllowed
	}
	if _, err := tx.ExecContext(ctx, `UPDATE projects SET public=$2 WHERE proj_id=$1`, projID, public); err != nil {
		return fmt.Errorf("set project public: %w", err)
	}
	return tx.Commit()
}

func (s *PostgresStore) ListProjectsForMember(ctx context.Context, userName string) ([]Project, error) {
	return s.queryProjects(ctx, `
		SELECT p.proj_id, p.head_id, p.shared_name, p.public
		FROM projects p
		JOIN shares sh ON sh.proj_id = p.proj_id
		WHERE sh.user_name = $1
		ORDER BY p.proj_id
	`, userName)
}

func (s *PostgresStore) FindProjectsByName(ctx context.Context, userName, sharedName string) ([]Project, error) {
	return s.queryProjects(ctx, `
		SELECT p.proj_id, p.head_id, p.shared_name, p.public
		FROM projects p
		JOIN shares sh ON sh.proj_id = p.proj_id
		WHERE sh.user_name = $1 AND p.shared_name = $2
		ORDER BY p.proj_id
	`, userName, sharedName)
}

func (s *PostgresStore) queryProjects(ctx context.Context, query string, args ...any) ([]Project, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query projects: %w", err)
	}
	defer rows.Close()

	items := make([]Project, 0)
	for rows.Next() {
		var project Project
		var headID, sharedName sql.NullString
		if err := rows.Scan(&project.ProjID, &headID, &sharedName, &project.Public); err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		project.HeadID = headID.String
		project.SharedName = sharedName.String
		items = append(items, project)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate projects: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) ListMembers(ctx context.Context, projID string) ([]string, error) {
	return s.queryNames(ctx, `SELECT user_name FROM shares WHERE proj_id=$1 ORDER BY user_name`, projID)
}

func (s *PostgresStore) ListOwners(ctx context.Context, projID string) ([]string, error) {
	return s.queryNames(ctx, `SELECT user_name FROM project_owners WHERE proj_id=$1 ORDER BY user_name`, projID)
}

func (s *PostgresStore) queryNames(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query names: %w", err)
	}
	defer rows.Close()

	names := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan name: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate names: %w", err)
	}
	return names, nil
}

// ---- sharing graph ----

// ProjectGraph resolves the sharing graph around one project in a single
// round trip per relationship set, so permission checks afterwards are pure
// set membership.
func (s *PostgresStore) ProjectGraph(ctx context.Context, projID string) (access.ProjectGraph, error) {
	owners, err := s.ListOwners(ctx, projID)
	if err != nil {
		return access.ProjectGraph{}, err
	}
	members, err := s.ListMembers(ctx, projID)
	if err != nil {
		return access.ProjectGraph{}, err
	}

	graph := access.ProjectGraph{
		ProjectID: projID,
		Owners:    access.NewSet(owners...),
		Members:   access.NewSet(members...),
	}

	teacherCourses, err := s.queryNames(ctx, `SELECT course_id FROM teacher_shares WHERE proj_id=$1`, projID)
	if err != nil {
		return access.ProjectGraph{}, err
	}
	for _, courseID := range teacherCourses {
		roster, err := s.CourseRoster(ctx, courseID)
		if err != nil {
			return access.ProjectGraph{}, err
		}
		graph.SharedWithTeachersOf = append(graph.SharedWithTeachersOf, roster)
	}

	studentCourses, err := s.queryNames(ctx, `SELECT course_id FROM student_shares WHERE proj_id=$1`, projID)
	if err != nil {
		return access.ProjectGraph{}, err
	}
	for _, courseID := range studentCourses {
		roster, err := s.CourseRoster(ctx, courseID)
		if err != nil {
			return access.ProjectGraph{}, err
		}
		graph.SharedWithStudentsOf = append(graph.SharedWithStudentsOf, roster)
	}

	return graph, nil
}

func (s *PostgresStore) CourseRoster(ctx context.Context, courseID string) (access.CourseRoster, error) {
	teachers, err := s.queryNames(ctx, `SELECT user_name FROM course_teachers WHERE course_id=$1`, courseID)
	if err != nil {
		return access.CourseRoster{}, err
	}
	students, err := s.queryNames(ctx, `SELECT user_name FROM course_students WHERE course_id=$1`, courseID)
	if err != nil {
		return access.CourseRoster{}, err
	}
	return access.CourseRoster{
		CourseID: courseID,
		Teachers: access.NewSet(teachers...),
		Students: access.NewSet(students...),
	}, nil
}

// ---- graph mutations ----
//
// Every mutation re-verifies the acting user's precondition inside its own
// transaction, with the parent row locked, so the check and the write commit
// together or not at all. A stale authorization observed by the caller before
// the transaction began surfaces as ErrNotAllowed.

// lockProject takes the project's row lock for the span of the transaction.
func lockProject(ctx context.Context, tx *sql.Tx, projID string) error {
	var id string
	return tx.QueryRowContext(ctx, `
		SELECT proj_id FROM projects WHERE proj_id=$1 FOR UPDATE
	`, projID).Scan(&id)
}

func lockCourse(ctx context.Context, tx *sql.Tx, courseID string) error {
	var id string
	return tx.QueryRowContext(ctx, `
		SELECT course_id FROM courses WHERE course_id=$1 FOR UPDATE
	`, courseID).Scan(&id)
}

// projectWriter reports whether user may write the project: owner or member.
func projectWriter(ctx context.Context, tx *sql.Tx, projID, user string) (bool, error) {
	var ok bool
	err := tx.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM shares WHERE proj_id=$1 AND user_name=$2)
		    OR EXISTS (SELECT 1 FROM project_owners WHERE proj_id=$1 AND user_name=$2)
	`, projID, user).Scan(&ok)
	return ok, err
}

func projectOwner(ctx context.Context, tx *sql.Tx, projID, user string) (bool, error) {
	var ok bool
	err := tx.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM project_owners WHERE proj_id=$1 AND user_name=$2)
	`, projID, user).Scan(&ok)
	return ok, err
}

func courseTeacher(ctx context.Context, tx *sql.Tx, courseID, user string) (bool, error) {
	var ok bool
	err := tx.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM course_teachers WHERE course_id=$1 AND user_name=$2)
	`, courseID, user).Scan(&ok)
	return ok, err
}

// courseMember reports whether user belongs to the course roster at all.
func courseMember(ctx context.Context, tx *sql.Tx, courseID, user string) (bool, error) {
	var ok bool
	err := tx.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM course_students WHERE course_id=$1 AND user_name=$2)
		    OR EXISTS (SELECT 1 FROM course_teachers WHERE course_id=$1 AND user_name=$2)
	`, courseID, user).Scan(&ok)
	return ok, err
}

func (s *PostgresStore) AddMember(ctx context.Context, projID, userName, actor string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin add member: %w", err)
	}
	defer tx.Rollback()

	if err := lockProject(ctx, tx, projID); err != nil {
		return err
	}
	writer, err := projectWriter(ctx, tx, projID, actor)
	if err != nil {
		return fmt.Errorf("check writer: %w", err)
	}
	if !writer {
		return ErrNotAllowed
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO shares (proj_id, user_name) VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`, projID, userName); err != nil {
		return fmt.Errorf("add member: %w", err)
	}
	return tx.Commit()
}

func (s *PostgresStore) RemoveMember(ctx context.Context, projID, userName, actor string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin remove member: %w", err)
	}
	defer tx.Rollback()

	if err := lockProject(ctx, tx, projID); err != nil {
		return err
	}
	writer, err := projectWriter(ctx, tx, projID, actor)
	if err != nil {
		return fmt.Errorf("check writer: %w", err)
	}
	if !writer {
		return ErrNotAllowed
	}
	// An owner keeps membership for the project's lifetime.
	owner, err := projectOwner(ctx, tx, projID, userName)
	if err != nil {
		return fmt.Errorf("check owner: %w", err)
	}
	if owner {
		return ErrNotAllowed
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM shares WHERE proj_id=$1 AND user_name=$2`, projID, userName)
	if err != nil {
		return fmt.Errorf("remove member: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrAbsent
	}
	return tx.Commit()
}

func (s *PostgresStore) AddStudent(ctx context.Context, courseID, userName, actor string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin add student: %w", err)
	}
	defer tx.Rollback()

	if err := lockCourse(ctx, tx, courseID); err != nil {
		return err
	}
	// Self-enrollment is open; enrolling someone else takes a teacher.
	if actor != userName {
		teacher, err := courseTeacher(ctx, tx, courseID, actor)
		if err != nil {
			return fmt.Errorf("check teacher: %w", err)
		}
		if !teacher {
			return ErrNotAllowed
		}
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO course_students (course_id, user_name) VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`, courseID, userName); err != nil {
		return fmt.Errorf("add student: %w", err)
	}
	return tx.Commit()
}

func (s *PostgresStore) RemoveStudent(ctx context.Context, courseID, userName, actor string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin remove student: %w", err)
	}
	defer tx.Rollback()

	if err := lockCourse(ctx, tx, courseID); err != nil {
		return err
	}
	if actor != userName {
		teacher, err := courseTeacher(ctx, tx, courseID, actor)
		if err != nil {
			return fmt.Errorf("check teacher: %w", err)
		}
		if !teacher {
			return ErrNotAllowed
		}
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM course_students WHERE course_id=$1 AND user_name=$2`, courseID, userName)
	if err != nil {
		return fmt.Errorf("remove student: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrAbsent
	}
	return tx.Commit()
}

func (s *PostgresStore) AddTeacher(ctx context.Context, courseID, userName, actor string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin add teacher: %w", err)
	}
	defer tx.Rollback()

	if err := lockCourse(ctx, tx, courseID); err != nil {
		return err
	}
	teacher, err := courseTeacher(ctx, tx, courseID, actor)
	if err != nil {
		return fmt.Errorf("check teacher: %w", err)
	}
	if !teacher {
		return ErrNotAllowed
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO course_teachers (course_id, user_name) VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`, courseID, userName); err != nil {
		return fmt.Errorf("add teacher: %w", err)
	}
	return tx.Commit()
}

// RemoveTeacher enforces the teacher floor inside the transaction: the actor
// check, the count check, and the delete commit together or not at all, so
// concurrent removals cannot drop a course to zero teachers.
func (s *PostgresStore) RemoveTeacher(ctx context.Context, courseID, userName, actor string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin remove teacher: %w", err)
	}
	defer tx.Rollback()

	if err := lockCourse(ctx, tx, courseID); err != nil {
		return err
	}
	var count int
	err = tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM (
			SELECT 1 FROM course_teachers WHERE course_id=$1 FOR UPDATE
		) locked
	`, courseID).Scan(&count)
	if err != nil {
		return fmt.Errorf("count teachers: %w", err)
	}
	teacher, err := courseTeacher(ctx, tx, courseID, actor)
	if err != nil {
		return fmt.Errorf("check teacher: %w", err)
	}
	if !teacher {
		return ErrNotAllowed
	}
	if count <= 1 {
		return ErrLastTeacher
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM course_teachers WHERE course_id=$1 AND user_name=$2`, courseID, userName)
	if err != nil {
		return fmt.Errorf("remove teacher: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrAbsent
	}
	return tx.Commit()
}

func (s *PostgresStore) ShareWithTeachers(ctx context.Context, courseID, projID, actor string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin share with teachers: %w", err)
	}
	defer tx.Rollback()

	if err := lockProject(ctx, tx, projID); err != nil {
		return err
	}
	writer, err := projectWriter(ctx, tx, projID, actor)
	if err != nil {
		return fmt.Errorf("check writer: %w", err)
	}
	if !writer {
		return ErrNotAllowed
	}
	if err := lockCourse(ctx, tx, courseID); err != nil {
		return err
	}
	member, err := courseMember(ctx, tx, courseID, actor)
	if err != nil {
		return fmt.Errorf("check course membership: %w", err)
	}
	if !member {
		return ErrNotAllowed
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO teacher_shares (course_id, proj_id) VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`, courseID, projID); err != nil {
		return fmt.Errorf("share with teachers: %w", err)
	}
	return tx.Commit()
}

func (s *PostgresStore) UnshareWithTeachers(ctx context.Context, courseID, projID, actor string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin unshare with teachers: %w", err)
	}
	defer tx.Rollback()

	if err := lockProject(ctx, tx, projID); err != nil {
		return err
	}
	writer, err := projectWriter(ctx, tx, projID, actor)
	if err != nil {
		return fmt.Errorf("check writer: %w", err)
	}
	if !writer {
		return ErrNotAllowed
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM teacher_shares WHERE course_id=$1 AND proj_id=$2`, courseID, projID)
	if err != nil {
		return fmt.Errorf("unshare with teachers: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrAbsent
	}
	return tx.Commit()
}

func (s *PostgresStore) ShareWithStudents(ctx context.Context, courseID, projID, actor string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin share with students: %w", err)
	}
	defer tx.Rollback()

	if err := lockProject(ctx, tx, projID); err != nil {
		return err
	}
	writer, err := projectWriter(ctx, tx, projID, actor)
	if err != nil {
		return fmt.Errorf("check writer: %w", err)
	}
	if !writer {
		return ErrNotAllowed
	}
	if err := lockCourse(ctx, tx, courseID); err != nil {
		return err
	}
	teacher, err := courseTeacher(ctx, tx, courseID, actor)
	if err != nil {
		return fmt.Errorf("check teacher: %w", err)
	}
	if !teacher {
		return ErrNotAllowed
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO student_shares (course_id, proj_id) VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`, courseID, projID); err != nil {
		return fmt.Errorf("share with students: %w", err)
	}
	return tx.Commit()
}

func (s *PostgresStore) UnshareWithStudents(ctx context.Context, courseID, projID, actor string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin unshare with students: %w", err)
	}
	defer tx.Rollback()

	if err := lockProject(ctx, tx, projID); err != nil {
		return err
	}
	writer, err := projectWriter(ctx, tx, projID, actor)
	if err != nil {
		return fmt.Errorf("check writer: %w", err)
	}
	if !writer {
		return ErrNotAllowed
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM student_shares WHERE course_id=$1 AND proj_id=$2`, courseID, projID)
	if err != nil {
		return fmt.Errorf("unshare with students: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrAbsent
	}
	return tx.Commit()
}

// ---- courses ----

// InsertCourse records the course with its creator as the sole teacher.
func (s *PostgresStore) InsertCourse(ctx context.Context, course Course, teacher string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert course: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO courses (course_id, name) VALUES ($1, NULLIF($2, ''))
	`, course.CourseID, course.Name); err != nil {
		return fmt.Errorf("insert course: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO course_teachers (course_id, user_name) VALUES ($1, $2)
	`, course.CourseID, teacher); err != nil {
		return fmt.Errorf("insert course teacher: %w", err)
	}
	return tx.Commit()
}

func (s *PostgresStore) GetCourse(ctx context.Context, courseID string) (Course, error) {
	var course Course
	var name sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT course_id, name FROM courses WHERE course_id=$1`, courseID).
		Scan(&course.CourseID, &name)
	if err != nil {
		return Course{}, err
	}
	course.Name = name.String
	return course, nil
}

func (s *PostgresStore) ListCoursesTeaching(ctx context.Context, userName string) ([]Course, error) {
	return s.queryCourses(ctx, `
		SELECT c.course_id, c.name
		FROM courses c
		JOIN course_teachers ct ON ct.course_id = c.course_id
		WHERE ct.user_name = $1
		ORDER BY c.course_id
	`, userName)
}

func (s *PostgresStore) ListCoursesEnrolled(ctx context.Context, userName string) ([]Course, error) {
	return s.queryCourses(ctx, `
		SELECT c.course_id, c.name
		FROM courses c
		JOIN course_students cs ON cs.course_id = c.course_id
		WHERE cs.user_name = $1
		ORDER BY c.course_id
	`, userName)
}

func (s *PostgresStore) queryCourses(ctx context.Context, query string, args ...any) ([]Course, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query courses: %w", err)
	}
	defer rows.Close()

	items := make([]Course, 0)
	for rows.Next() {
		var course Course
		var name sql.NullString
		if err := rows.Scan(&course.CourseID, &name); err != nil {
			return nil, fmt.Errorf("scan course: %w", err)
		}
		course.Name = name.String
		items = append(items, course)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate courses: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) ListStudents(ctx context.Context, courseID string) ([]string, error) {
	return s.queryNames(ctx, `SELECT user_name FROM course_students WHERE course_id=$1 ORDER BY user_name`, courseID)
}

func (s *PostgresStore) ListTeachers(ctx context.Context, courseID string) ([]string, error) {
	return s.queryNames(ctx, `SELECT user_name FROM course_teachers WHERE course_id=$1 ORDER BY user_name`, courseID)
}

// ---- assignments and submissions ----

func (s *PostgresStore) InsertAssignment(ctx context.Context, assignment Assignment) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO assignments (assign_id, course_id, name)
		VALUES ($1, $2, NULLIF($3, ''))
	`, assignment.AssignID, assignment.CourseID, assignment.Name)
	if err != nil {
		return fmt.Errorf("insert assignment: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetAssignment(ctx context.Context, assignID string) (Assignment, error) {
	var assignment Assignment
	var name sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT assign_id, course_id, name FROM assignments WHERE assign_id=$1
	`, assignID).Scan(&assignment.AssignID, &assignment.CourseID, &name)
	if err != nil {
		return Assignment{}, err
	}
	assignment.Name = name.String
	return assignment, nil
}

func (s *PostgresStore) DeleteAssignment(ctx context.Context, assignID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM assignments WHERE assign_id=$1`, assignID)
	if err != nil {
		return fmt.Errorf("delete assignment: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) ListAssignments(ctx context.Context, courseID string) ([]Assignment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT assign_id, course_id, name FROM assignments WHERE course_id=$1 ORDER BY assign_id
	`, courseID)
	if err != nil {
		return nil, fmt.Errorf("list assignments: %w", err)
	}
	defer rows.Close()

	items := make([]Assignment, 0)
	for rows.Next() {
		var assignment Assignment
		var name sql.NullString
		if err := rows.Scan(&assignment.AssignID, &assignment.CourseID, &name); err != nil {
			return nil, fmt.Errorf("scan assignment: %w", err)
		}
		assignment.Name = name.String
		items = append(items, assignment)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate assignments: %w", err)
	}
	return items, nil
}

// InsertSubmission records the submission and its member snapshot in one
// transaction.
func (s *PostgresStore) InsertSubmission(ctx context.Context, submission Submission) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert submission: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO submissions (submit_id, assign_id, proj_id, revision_id, submitter, submitted_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, submission.SubmitID, submission.AssignID, submission.ProjID,
		submission.RevisionID, submission.Submitter, submission.SubmittedAt); err != nil {
		return fmt.Errorf("insert submission: %w", err)
	}
	for _, member := range submission.Members {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO submission_members (submit_id, user_name) VALUES ($1, $2)
			ON CONFLICT DO NOTHING
		`, submission.SubmitID, member); err != nil {
			return fmt.Errorf("insert submission member: %w", err)
		}
	}
	return tx.Commit()
}

func (s *PostgresStore) ListSubmissions(ctx context.Context, assignID string) ([]Submission, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT submit_id, assign_id, proj_id, revision_id, submitter, submitted_at
		FROM submissions WHERE assign_id=$1 ORDER BY submitted_at
	`, assignID)
	if err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}
	defer rows.Close()

	items := make([]Submission, 0)
	for rows.Next() {
		var submission Submission
		if err := rows.Scan(&submission.SubmitID, &submission.AssignID, &submission.ProjID,
			&submission.RevisionID, &submission.Submitter, &submission.SubmittedAt); err != nil {
			return nil, fmt.Errorf("scan submission: %w", err)
		}
		items = append(items, submission)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate submissions: %w", err)
	}
	return items, nil
}

// ---- session fallback (used when Redis is not configured) ----

func (s *PostgresStore) SaveSession(ctx context.Context, tokenHash, userName string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (token_hash, user_name, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_name=EXCLUDED.user_name, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, userName, expiresAt)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupSession(ctx context.Context, tokenHash string) (User, error) {
	const query = `
		SELECT u.user_name, u.password_hash, COALESCE(u.email, '')
		FROM sessions s
		JOIN users u ON u.user_name = s.user_name
		WHERE s.token_hash = $1
			AND s.revoked_at IS NULL
			AND s.expires_at > NOW()
	`
	var user User
	err := s.db.QueryRowContext(ctx, query, tokenHash).Scan(&user.UserName, &user.PasswordHash, &user.Email)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) RevokeSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	return nil
}
