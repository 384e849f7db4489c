package domain

import (
	"context"
	"errors"
	"time"

	"github.com/smallbiznis/paylink/pkg/db/pagination"
)

type ListContactRequest struct {
	PageToken   string
	PageSize    int32
	Name        string
	Email       string
	CreatedFrom *time.Time
	CreatedTo   *time.Time
}

type ListContactFilter struct {
	Name        string
	Email       string
	CreatedFrom *time.Time
	CreatedTo   *time.Time
}

type ListContactResponse struct {
	pagination.PageInfo
	Contacts []Contact `json:"contacts"`
}

type CreateContactRequest struct {
	FirstName string
	LastName  string
	Email     string
	Phone     string
}

type GetContactRequest struct {
	ID string
}

type FindOrCreateContactRequest struct {
	Name  string
	Email string
}

type Service interface {
	Create(context.Context, CreateContactRequest) (Contact, error)
	List(context.Context, ListContactRequest) (ListContactResponse, error)
	GetByID(context.Context, GetContactRequest) (Contact, error)
	FindOrCreateByEmail(context.Context, FindOrCreateContactRequest) (Contact, error)
}

var (
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidName         = errors.New("invalid_name")
	ErrInvalidEmail        = errors.New("invalid_email")
	ErrInvalidID           = errors.New("invalid_id")
	ErrNotFound            = errors.New("not_found")
)
