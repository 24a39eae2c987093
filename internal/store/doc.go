// Package store is the relational store of query-backed collections.
//
// It opens a sqlite or postgres database through sqlx, creates one table per
// entity (plus junction tables) from metadata, writes entity records with
// goqu inserts and runs the SELECTs composed by querysql.
//
// # Storage Conventions
//
//   - Embedded properties are flattened into prefixed columns
//     ("address_city"), as metadata.EntityMetadata.Columns lists them.
//   - to-one relationships holding the key store the related primary key.
//   - Datetimes are stored as unix seconds, the form expressions compare.
//   - Array values are stored as canonical JSON text.
//
// The schema carries no foreign key constraints, so rows can be inserted in
// any order.
package store
