package jobhub

import "github.com/xraph/jobhub/id"

// ID is the identifier type for all jobhub entities.
type ID = id.ID

// Prefix identifies the entity type encoded in a TypeID.
type Prefix = id.Prefix
