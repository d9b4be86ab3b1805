package di

import (
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"github.com/cdcops/dms-replicator/internal/dao/checkpointdao"
	"github.com/cdcops/dms-replicator/internal/dao/lockdao"
)

func ProvideLockDAO(env string, client *dynamodb.Client) *lockdao.DAO {
	return lockdao.New(client, lockdao.TableName(env))
}

func ProvideCheckpointDAO(env string, client *dynamodb.Client) *checkpointdao.DAO {
	return checkpointdao.New(client, checkpointdao.TableName(env))
}
