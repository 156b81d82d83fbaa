//go:generate go run go.uber.org/mock/mockgen -source=contract.go -destination=../mocks/mock_contract.go -package=mocks
package contract

import (
	"context"
	"reflect"
	"social-lab/domain"
)

type ISupervisor interface {
	Add(worker ...Worker) ISupervisor
	Run(ctx context.Context)
	Start(ctx context.Context, worker Worker)
	Stop()
}

type WorkerName string

// Worker doesn't protect itself
// Can be silly, focused
type Worker interface {
	Run(ctx context.Context) error
}

// GetWorkerName uses reflection to retrieve the type name of the worker.
// This is used for logging and supervision purposes during worker initialization
// or lifecycle events, avoiding the need for manual naming in the Worker interface.
func GetWorkerName(w Worker) string {
	if w == nil {
		return "NilWorker"
	}
	t := reflect.TypeOf(w)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}

// EventSink is the write side of one connection.
// Consume must never block: a full queue is reported, not waited on.
type EventSink interface {
	Consume(ctx context.Context, e domain.Envelope) error
}

type IRegistry interface {
	Register(conn domain.ConnID, user domain.UserID, sink EventSink)
	Join(conn domain.ConnID, room domain.RoomKey)
	Leave(conn domain.ConnID, room domain.RoomKey)
	LeaveAll(conn domain.ConnID) []domain.RoomKey
	JoinUser(user domain.UserID, room domain.RoomKey)
	LeaveUser(user domain.UserID, room domain.RoomKey)
	// Subscribe and Unsubscribe apply a stamped change unless a newer one for the same user and room was applied.
	Subscribe(s domain.Subscription)
	Unsubscribe(s domain.Subscription)
	DropRoom(room domain.RoomKey)
	Broadcast(ctx context.Context, d domain.Delivery) int
	Send(ctx context.Context, conn domain.ConnID, e domain.Envelope) error
	ConnectionCount() int
}

// ILocker serializes mutations per entity key.
type ILocker interface {
	Lock(ctx context.Context, key string) (func(), error)
	LockAll(ctx context.Context, keys ...string) (func(), error)
}

type IRateLimiter interface {
	Admit(user domain.UserID, kind domain.EventKind) bool
}

// ImageValidator accepts only image urls that the upload collaborator already stored.
type ImageValidator interface {
	ValidateImage(ctx context.Context, url string) error
}

// IUserIndex is the full text directory used by friends_search.
type IUserIndex interface {
	Upsert(profile domain.Profile) error
	Search(ctx context.Context, query string, limit int) ([]domain.UserID, error)
}

// Decoder unmarshals the value of the current record into out.
type Decoder func(out any) error

type ScanOptions struct {
	Prefix string
	// Seek positions the scan, it defaults to the first (or last when Reverse) key of Prefix.
	Seek    string
	Reverse bool
}

// Txn is a read or read-write view over the durable store.
// Get returns errors.ErrKeyNotFound when the key is absent.
type Txn interface {
	Get(key string, out any) error
	Has(key string) (bool, error)
	Set(key string, value any) error
	Delete(key string) error
	// Scan calls fn for every key in range until fn returns false or an error.
	Scan(opts ScanOptions, fn func(key string, value Decoder) (bool, error)) error
}

// Store is the narrow storage port used by every manager.
// Each call runs under the store timeout and reports failures as retryable errors.
type Store interface {
	View(ctx context.Context, fn func(tx Txn) error) error
	Update(ctx context.Context, fn func(tx Txn) error) error
	NextID(ctx context.Context, sequence string) (uint64, error)
}
