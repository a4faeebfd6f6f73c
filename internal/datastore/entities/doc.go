// Package entities defines the GORM models of the notification engine.
//
// All timestamps are written in UTC. Ids are UUID strings generated by the
// caller so that records can be referenced before they are committed.
package entities
