// Package domain contains the core entities of the fragment pipeline:
// encoded samples, media fragments, upload tasks, and the error taxonomy.
//
// Entities here carry no I/O and no synchronization. Ownership rules:
// a Fragment is produced by the interceptor, handed by value to the
// pusher, and released after delivery or permanent drop.
package domain
