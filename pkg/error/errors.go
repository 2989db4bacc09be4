package error

import "net/http"

// GenericError is implemented by errors that carry an HTTP mapping.
type GenericError interface {
	Error() string
	ErrCode() string
	StatusCode() int
}

type NotFoundError string

func (err NotFoundError) Error() string   { return string(err) }
func (err NotFoundError) ErrCode() string { return "NOT_FOUND_ERROR" }
func (err NotFoundError) StatusCode() int { return http.StatusNotFound }

type ValidationError string

func (err ValidationError) Error() string   { return string(err) }
func (err ValidationError) ErrCode() string { return "VALIDATION_ERROR" }
func (err ValidationError) StatusCode() int { return http.StatusBadRequest }

type UnauthorizedError string

func (err UnauthorizedError) Error() string   { return string(err) }
func (err UnauthorizedError) ErrCode() string { return "UNAUTHORIZED_ERROR" }
func (err UnauthorizedError) StatusCode() int { return http.StatusUnauthorized }

type ConflictError string

func (err ConflictError) Error() string   { return string(err) }
func (err ConflictError) ErrCode() string { return "CONFLICT_ERROR" }
func (err ConflictError) StatusCode() int { return http.StatusConflict }

type StorageError string

func (err StorageError) Error() string   { return string(err) }
func (err StorageError) ErrCode() string { return "STORAGE_ERROR" }
func (err StorageError) StatusCode() int { return http.StatusServiceUnavailable }
