package web

import (
	"fmt"
)

type webfingerLink struct {
	Rel  string `json:"rel"`
	Type string `json:"type,omitempty"`
	Href string `json:"href,omitempty"`
}

type webfingerDoc struct {
	Subject string          `json:"subject"`
	Aliases []string        `json:"aliases,omitempty"`
	Links   []webfingerLink `json:"links"`
}

// GetWebfinger resolves a bare local username to its WebFinger document.
func (s *Server) GetWebfinger(user string) (error, *webfingerDoc) {
	err, acc := s.store.ReadAccByUsername(user)
	if err != nil {
		return err, nil
	}

	actorURI := acc.ActorURI(s.conf.Conf.SslDomain)
	return nil, &webfingerDoc{
		Subject: fmt.Sprintf("acct:%s@%s", acc.Username, s.conf.Conf.SslDomain),
		Aliases: []string{actorURI},
		Links: []webfingerLink{
			{
				Rel:  "self",
				Type: "application/activity+json",
				Href: actorURI,
			},
		},
	}
}
