// Package txapi exposes an HTTP admin surface over a dynatx transaction: one route per
// coordinator operation (begin/get/put/update/delete/commit/rollback/sweep), grounded on the
// teacher's restapi package's verb/path/handler registry and gin.Context handler style.
package txapi

import (
	"fmt"

	"github.com/gin-gonic/gin"
)

// HTTPVerb enumerates the HTTP methods a RestMethod can be registered under.
type HTTPVerb int

const (
	// Unknown represents an unspecified HTTP verb.
	Unknown HTTPVerb = iota
	GET
	DELETE
	POST
	PUT
	PATCH
)

// RestMethod describes one route: verb, path and gin handler.
type RestMethod struct {
	Verb    HTTPVerb
	Path    string
	Handler func(c *gin.Context)
}

var restMethods = make(map[string]RestMethod)

// RegisterMethod builds a RestMethod and adds it to the package registry.
func RegisterMethod(verb HTTPVerb, path string, h func(c *gin.Context)) error {
	return Register(RestMethod{Verb: verb, Path: path, Handler: h})
}

// Register inserts m into the global registry, rejecting a duplicate verb+path pair.
func Register(m RestMethod) error {
	key := fmt.Sprintf("%d_%s", m.Verb, m.Path)
	if _, exists := restMethods[key]; exists {
		return fmt.Errorf("txapi: a handler for %s is already registered", key)
	}
	restMethods[key] = m
	return nil
}

// RestMethods returns every registered route.
func RestMethods() map[string]RestMethod {
	return restMethods
}
