// Package storage provides append-only publishers for avatar images: a local
// directory served by the HTTP app, or an S3 compatible bucket.
package storage
