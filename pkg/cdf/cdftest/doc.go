// Package cdftest provides an in-memory cdf.Client for tests. Stores keep
// items in insertion order, assign ids on create, and reproduce the API's
// duplicate and missing-item errors so callers can exercise both paths
// without a live project.
package cdftest
