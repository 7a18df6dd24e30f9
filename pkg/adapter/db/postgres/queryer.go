package postgres

import "github.com/arqdb/schemadeploy/pkg/core/repo"

type Queryer interface {
	*Conn | *Tx
	repo.Queryer
}
