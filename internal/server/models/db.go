// Package models defines server-side records persisted in PostgreSQL.
package models
