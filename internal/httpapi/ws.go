package httpapi

import (
	"net/http"

	"github.com/orbimport/importsvc/internal/folderstatus"
)

// wsFolderStatus upgrades the connection and subscribes it to the
// folder-status topic (§4.I).
func (s *Service) wsFolderStatus(w http.ResponseWriter, r *http.Request) {
	s.subscriber.ServeWS(w, r, folderstatus.Channel)
}
