package integration

import (
	"fmt"
	"time"
)

// StrongTestPassword satisfies the password policy
const StrongTestPassword = "Int3gration!Pass"

// UniqueEmail generates a unique address so suites can share a database
func UniqueEmail(suffix string) string {
	return fmt.Sprintf("test-%d-%s@example.com", time.Now().UnixNano(), suffix)
}
