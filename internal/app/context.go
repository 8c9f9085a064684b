package app

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"questline/internal/db"
	"questline/internal/definition"
	"questline/internal/engine"
	"questline/internal/migrate"
	"questline/internal/save"
)

// Context bundles what the CLI and the server need for hosted play: a
// migrated workspace database and the engine over the loaded campaigns.
type Context struct {
	DB       *sql.DB
	Engine   engine.Engine
	Warnings []definition.Warning
}

// Open prepares the workspace under workspace and loads every campaign in
// campaignDir. Authoring warnings are logged, not returned as errors.
func Open(ctx context.Context, workspace, campaignDir string) (*Context, error) {
	campaigns, warnings, err := definition.LoadDir(campaignDir)
	if err != nil {
		return nil, fmt.Errorf("load campaigns: %w", err)
	}
	for _, w := range warnings {
		logrus.WithFields(logrus.Fields{"campaign_id": w.CampaignID, "kind": w.Kind, "subject": w.Subject}).Warn(w.Message)
	}
	if len(campaigns) == 0 {
		logrus.WithField("dir", campaignDir).Warn("no campaigns found")
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, err
	}
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("open %s: %w", db.Path(workspace), err)
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	logrus.WithFields(logrus.Fields{"db": db.Path(workspace), "campaigns": len(campaigns)}).Debug("workspace ready")
	return &Context{DB: conn, Engine: engine.New(conn, campaigns), Warnings: warnings}, nil
}

func (c *Context) Close() error {
	if c == nil || c.DB == nil {
		return nil
	}
	return c.DB.Close()
}

// SaveStores builds the router used for save destinations. Redis is only
// dialled when redisAddr is set; the returned func releases the client.
func SaveStores(ctx context.Context, redisAddr, redisPassword string) (save.Router, func(), error) {
	router := save.Router{File: save.NewFileStore()}
	if redisAddr == "" {
		return router, func() {}, nil
	}
	client, err := save.Connect(ctx, redisAddr, redisPassword)
	if err != nil {
		return save.Router{}, nil, err
	}
	router.Redis = save.NewRedisStore(client, save.RedisStoreConfig{})
	return router, func() { closeRedis(client) }, nil
}

func closeRedis(client *redis.Client) {
	if err := client.Close(); err != nil {
		logrus.Debugf("close redis: %v", err)
	}
}
