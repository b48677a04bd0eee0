package iotutil

import "github.com/google/uuid"

// UUID generates an RFC 4122 version-4 UUID string.
func UUID() string {
	return uuid.NewString()
}
