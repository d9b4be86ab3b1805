package di

import (
	"github.com/cdcops/dms-replicator/internal/dao/checkpointdao"
	"github.com/cdcops/dms-replicator/internal/dao/lockdao"
	"github.com/cdcops/dms-replicator/internal/dao/tabledao"
	"github.com/cdcops/dms-replicator/internal/replicator"
	"github.com/cdcops/dms-replicator/internal/services"
	"github.com/cdcops/dms-replicator/internal/validator"
)

func ProvideReplicator(
	env string,
	scanner services.S3Scanner,
	tables tabledao.TableOperator,
	locks *lockdao.DAO,
	checkpoints *checkpointdao.DAO,
	decode replicator.Decoder,
) *replicator.Replicator {
	return replicator.New(env, scanner, tables, locks, checkpoints, decode)
}

func ProvideValidator(
	scanner services.S3Scanner,
	tables tabledao.TableOperator,
	decode replicator.Decoder,
) *validator.Validator {
	return validator.New(scanner, tables, decode)
}
