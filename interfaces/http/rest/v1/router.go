// Package v1 wires the versioned API routes.
package v1

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/creatuluw/exploring.fyi-sub000/interfaces/http/rest/handlers"
)

// NewRouter creates the v1 API router
func NewRouter(
	topicHandler *handlers.TopicHandler,
	generationHandler *handlers.GenerationHandler,
	mindMapHandler *handlers.MindMapHandler,
	contentHandler *handlers.ContentHandler,
	mws ...mux.MiddlewareFunc,
) *mux.Router {
	router := mux.NewRouter()
	v1 := router.PathPrefix("/api/v1").Subrouter()

	for _, mw := range mws {
		v1.Use(mw)
	}
	v1.Use(versionHeaders)

	// Generation
	v1.HandleFunc("/generations", generationHandler.StartGeneration).Methods("POST")

	// Topics
	v1.HandleFunc("/topics", topicHandler.ListTopics).Methods("GET")
	v1.HandleFunc("/topics/{slug}", topicHandler.GetTopic).Methods("GET")
	v1.HandleFunc("/topics/{topicID}", topicHandler.DeleteTopic).Methods("DELETE")

	// Mind maps
	v1.HandleFunc("/topics/{topicID}/mindmap", mindMapHandler.GetMindMap).Methods("GET")
	v1.HandleFunc("/topics/{topicID}/nodes/{nodeID}/expand", mindMapHandler.ExpandNode).Methods("POST")

	// Reading content
	v1.HandleFunc("/topics/{topicID}/content", contentHandler.GetContent).Methods("GET")
	v1.HandleFunc("/topics/{topicID}/chapters/{chapterID}/checks", contentHandler.RecordCheck).Methods("POST")

	return router
}

// versionHeaders adds API version headers to responses
func versionHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-API-Version", "v1")
		next.ServeHTTP(w, r)
	})
}
