// Package access decides read/write/manage permissions over a per-request
// view of the sharing graph: direct ownership and membership, plus indirect
// sharing mediated by course rosters.
package access

import "sort"

// Set is a membership set of user names.
type Set map[string]struct{}

func NewSet(names ...string) Set {
	set := make(Set, len(names))
	for _, name := range names {
		set[name] = struct{}{}
	}
	return set
}

func (s Set) Has(name string) bool {
	_, ok := s[name]
	return ok
}

// Sorted returns the member names in lexical order.
func (s Set) Sorted() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CourseRoster is the resolved membership of one course.
type CourseRoster struct {
	CourseID string
	Teachers Set
	Students Set
}

// ProjectGraph is the sharing graph around one project, resolved once per
// request so permission checks are plain set membership with no further
// repository round-trips.
type ProjectGraph struct {
	ProjectID            string
	Owners               Set
	Members              Set
	SharedWithTeachersOf []CourseRoster
	SharedWithStudentsOf []CourseRoster
}

// CanRead reports whether user may read the project: direct owner or member,
// teacher of a course the project is shared-with-teachers-of, or teacher or
// student of a course it is shared-with-students-of.
func CanRead(user string, graph ProjectGraph) bool {
	if graph.Owners.Has(user) || graph.Members.Has(user) {
		return true
	}
	for _, course := range graph.SharedWithTeachersOf {
		if course.Teachers.Has(user) {
			return true
		}
	}
	for _, course := range graph.SharedWithStudentsOf {
		if course.Students.Has(user) || course.Teachers.Has(user) {
			return true
		}
	}
	return false
}

// CanWrite reports whether user may write the project. Course-mediated
// sharing grants read only, never write.
func CanWrite(user string, graph ProjectGraph) bool {
	return graph.Owners.Has(user) || graph.Members.Has(user)
}

// CanManageCourse reports whether user may manage the course roster.
func CanManageCourse(user string, course CourseRoster) bool {
	return course.Teachers.Has(user)
}
