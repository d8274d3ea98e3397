package model

import "fmt"

// Role описывает роль пользователя в маркетплейсе.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleSeller   Role = "seller"
	RoleCustomer Role = "customer"
)

// ParseRole разбирает роль из утверждения токена. Значение "user" исторически означает покупателя.
func ParseRole(s string) (Role, error) {
	switch s {
	case "admin":
		return RoleAdmin, nil
	case "seller":
		return RoleSeller, nil
	case "customer", "user":
		return RoleCustomer, nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}
