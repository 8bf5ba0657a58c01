package web

import (
	"github.com/okapi-social/okapi/activitypub"
	"github.com/okapi-social/okapi/util"
)

// Server bundles the handlers' shared collaborators. Everything reaches
// the database through the activitypub.Store interface so tests can
// substitute a fake.
type Server struct {
	store      activitypub.Store
	conf       *util.AppConfig
	keys       *activitypub.KeyStore
	explorer   *activitypub.Explorer
	translator *activitypub.Translator
	inbox      *activitypub.InboxProcessor
}

func NewServer(store activitypub.Store, conf *util.AppConfig) *Server {
	explorer := activitypub.NewExplorer(store)
	keys := activitypub.NewKeyStore(store, explorer)
	translator := activitypub.NewTranslator(conf, explorer)

	return &Server{
		store:      store,
		conf:       conf,
		keys:       keys,
		explorer:   explorer,
		translator: translator,
		inbox:      activitypub.NewInboxProcessor(store, conf, keys, explorer, translator),
	}
}
