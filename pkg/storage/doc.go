// Package storage defines the interfaces the CMMN engine uses to read and
// write runtime state. The engine ships with an in-memory implementation in
// the inmemory sub-package; persistent implementations live outside this
// repository.
package storage
