package domain

import "time"

// RoleAPIUser is the only role an identity can hold
const RoleAPIUser = "apiuser"

// Identity is a stored credential record
type Identity struct {
	ID           int64     `db:"id"`
	CreatedAt    time.Time `db:"created_at"`
	Email        string    `db:"email"`
	PasswordHash string    `db:"password_hash"`
	Role         string    `db:"role"`
	FirstName    *string   `db:"first_name"`
	LastName     *string   `db:"last_name"`
}

// Profile is the owner-visible projection of an Identity
type Profile struct {
	Email     string    `db:"email" json:"email"`
	FirstName *string   `db:"first_name" json:"first_name"`
	LastName  *string   `db:"last_name" json:"last_name"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Field is an optional nullable column value in a partial update
type Field struct {
	Set   bool
	Value *string
}

// ProfileUpdate carries the owner-writable profile fields. Fields left unset
// keep their stored value; a set field with a nil Value clears the column.
type ProfileUpdate struct {
	FirstName Field
	LastName  Field
}

// Empty reports whether the update touches no column
func (u ProfileUpdate) Empty() bool {
	return !u.FirstName.Set && !u.LastName.Set
}
