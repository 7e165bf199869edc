package managers

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/chrissnell/powermeter/internal/controllers/restserver"
	"github.com/chrissnell/powermeter/pkg/config"
)

// ControllerManager interface for the controller manager
type ControllerManager interface {
	StartControllers() error
}

// Controller is an interface that provides standard methods for various controller backends
type Controller interface {
	StartController() error
}

// NewControllerManager creates a controller manager holding the REST server
func NewControllerManager(ctx context.Context, wg *sync.WaitGroup, configProvider config.ConfigProvider, deps restserver.Dependencies, logger *zap.SugaredLogger) (ControllerManager, error) {
	rc, err := configProvider.GetRESTConfig()
	if err != nil {
		return nil, fmt.Errorf("error loading REST configuration: %v", err)
	}

	rest, err := restserver.NewController(ctx, wg, *rc, deps, logger.Named("restserver"))
	if err != nil {
		return nil, fmt.Errorf("error creating REST server controller: %v", err)
	}

	return &controllerManager{
		logger:      logger,
		controllers: []Controller{rest},
	}, nil
}

type controllerManager struct {
	logger      *zap.SugaredLogger
	controllers []Controller
}

func (c *controllerManager) StartControllers() error {
	c.logger.Info("Starting controller manager...")

	for _, controller := range c.controllers {
		err := controller.StartController()
		if err != nil {
			return fmt.Errorf("error starting controller: %v", err)
		}
	}

	c.logger.Infof("Started %d controllers successfully", len(c.controllers))
	return nil
}
