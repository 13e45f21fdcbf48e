// Package catalog defines the provider/backend domain model and the collaborator
// interfaces shared by the fetch pipeline, the reconciler and the API.
package catalog
