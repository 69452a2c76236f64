//go:build cgo

package main

import (
	_ "github.com/tursodatabase/go-libsql"

	"github.com/todosync/todosync/internal/remote/libsql"
)

var libsqlDriver = libsql.DriverName
