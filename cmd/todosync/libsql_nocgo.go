//go:build !cgo

package main

var libsqlDriver = ""
