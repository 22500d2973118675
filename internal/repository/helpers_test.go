package repository

import "github.com/lib/pq"

func fakeUniqueViolation() error {
	return &pq.Error{Code: "23505", Message: "duplicate key value violates unique constraint"}
}
