package domain

// Learner identity of the person consuming a course, issued by the LMS
type Learner struct {
	ID    string
	Name  string
	Email string
}
