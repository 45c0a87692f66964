// Package deps resolves the external executables clipforge shells out to.
package deps
