// Package types defines the entity types shared by the erpdb engine: item
// records and their composite ERP name, category paths, edit ledger entries,
// projected tree nodes, view settings, configuration, and the error taxonomy
// (LoadError, ValidationError, CommitError, ProviderError).
package types
