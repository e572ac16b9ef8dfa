package auth

import "time"

// Department is the staff team a user belongs to. It decides which review
// queues they see and which admin operations they may run.
type Department string

const (
	DepartmentFinance      Department = "finance"
	DepartmentOperations   Department = "operations"
	DepartmentVerification Department = "verification"
	DepartmentSupport      Department = "support"
	DepartmentAudit        Department = "audit"
	DepartmentAdmin        Department = "admin"
)

func (d Department) Valid() bool {
	switch d {
	case DepartmentFinance, DepartmentOperations, DepartmentVerification,
		DepartmentSupport, DepartmentAudit, DepartmentAdmin:
		return true
	default:
		return false
	}
}

// User is a staff account. It mirrors the staff_users table and carries no
// JSON annotations so presentation layers pick their own shape.
type User struct {
	ID           string
	Email        string
	FullName     string
	PasswordHash string
	Department   Department
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// RegisterRequest contains staff registration data supplied by callers.
type RegisterRequest struct {
	Email      string     `json:"email" validate:"required,email"`
	Password   string     `json:"password" validate:"required"`
	FullName   string     `json:"full_name" validate:"required"`
	Department Department `json:"department"`
}

// LoginRequest contains staff login credentials.
type LoginRequest struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}
