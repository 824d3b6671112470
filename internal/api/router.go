package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"openadmin/internal/logger"
)

const shutdownTimeout = 10 * time.Second

// NewRouter wires the console routes under the context path.
func NewRouter(ctl *Controller, lggr logger.Logger) *gin.Engine {
	r := gin.New()
	r.Use(RequestID(), AccessLog(lggr), Recovery(lggr), ctl.resolveUser, ctl.resolveLocale)

	g := r.Group(ctl.opts.ContextPath)
	{
		// metadata endpoints first
		g.GET("/_meta", ctl.metaClassList)
		g.GET("/_meta/classes/:class", ctl.metaClass)
		g.GET("/_meta/enums/:name", ctl.metaEnum)
		g.GET("/_meta/lint", ctl.metaLint)

		g.GET("/:section", ctl.viewEntityList)
		g.GET("/:section/selectize", ctl.viewEntityListSelectize)
		g.GET("/:section/add", ctl.viewAddEntityForm)
		g.POST("/:section/add", ctl.addEntity)
		g.GET("/:section/:id", ctl.viewEntityForm)
		g.POST("/:section/:id", ctl.saveEntityDispatch)
		g.POST("/:section/:id/duplicate", ctl.duplicateEntity)
		g.POST("/:section/:id/delete", ctl.removeEntity)

		// to-one lookups carry the field name in the :id position
		g.GET("/:section/:id/details", ctl.getCollectionValueDetails)
		g.GET("/:section/:id/:field/view", ctl.viewCollectionItemDetails)

		g.GET("/:section/:id/:field", ctl.getCollectionFieldRecords)
		g.GET("/:section/:id/:field/add", ctl.showAddCollectionItem)
		g.POST("/:section/:id/:field/add", ctl.addCollectionItem)
		g.POST("/:section/:id/:field/add/:item/verify", ctl.addCollectionItemVerify)
		g.GET("/:section/:id/:field/selectize", ctl.getSelectizeCollectionOptions)
		g.POST("/:section/:id/:field/selectize-add", ctl.addSelectizeCollectionItem)
		g.POST("/:section/:id/:field/addEmpty", ctl.addEmptyCollectionItem)

		g.GET("/:section/:id/:field/:item", ctl.showUpdateCollectionItem)
		g.POST("/:section/:id/:field/:item", ctl.collectionItemPost)
		g.GET("/:section/:id/:field/:item/view", ctl.showViewCollectionItem)
		g.POST("/:section/:id/:field/:item/view/:tab/:tabName", ctl.viewCollectionItemTab)
		g.POST("/:section/:id/:field/:item/delete", ctl.removeCollectionItem)
		g.POST("/:section/:id/:field/:item/sequence", ctl.updateCollectionItemSequence)

		g.GET("/:section/:id/:field/:item/:alt", ctl.showUpdateCollectionItem)
		g.POST("/:section/:id/:field/:item/:alt", ctl.updateCollectionItem)
		g.GET("/:section/:id/:field/:item/:alt/view", ctl.showViewCollectionItem)
		g.POST("/:section/:id/:field/:item/:alt/delete", ctl.removeCollectionItem)
		g.POST("/:section/:id/:field/:item/:alt/sequence", ctl.updateCollectionItemSequence)
		g.POST("/:section/:id/:field/:item/:alt/:tabName", ctl.viewCollectionItemTab)
	}
	return r
}

// Run serves h on addr until ctx is cancelled, then shuts down gracefully.
func Run(ctx context.Context, addr string, h http.Handler, lggr logger.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		lggr.Infow("listening", "addr", addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	lggr.Infow("shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}
