// Package mysql persists the hiring journal: every terminal hiring attempt is
// stored either in a local JSON-lines file or in MySQL, with embedded schema
// migrations for the latter.
package mysql
