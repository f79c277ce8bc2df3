// Package apiresponses provides the JSON response helpers used by the HTTP
// API so every endpoint reports errors in the same shape.
package apiresponses
