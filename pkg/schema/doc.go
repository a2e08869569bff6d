// Package schema is the metadata plane's on-disk contract: the prefixed
// binary key layout of §4.2 and the tagged-field value codec every table
// uses to stay forward compatible as fields are added. Nothing here talks
// to a kv.Engine directly; schema only encodes and decodes the bytes that
// cross that boundary.
package schema
