// Package dynatx defines the core types, error codes, and shared helpers used across the
// dynatx codebase: a client-side transaction manager layered over a schemaless,
// single-item-conditional remote key-value store of the DynamoDB family. It provides the
// UUID, attribute-value, isolation-level, and error types shared by the keyresolver, lock,
// wal, and coordinator packages. Concrete store backends live in subpackages under store/,
// a Redis read-through cache lives under cache/, and the transaction coordination itself
// lives under coordinator/.
package dynatx
