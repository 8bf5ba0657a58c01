package web

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

const activityJSON = "application/activity+json; charset=utf-8"

// Router builds the gin engine with all federation endpoints.
func (s *Server) Router() *gin.Engine {
	g := gin.Default()
	g.Use(gzip.Gzip(gzip.DefaultCompression))

	// Global rate limit: 10 req/s per IP, burst of 20
	globalLimiter := NewRateLimiter(rate.Limit(10), 20)
	g.Use(RateLimitMiddleware(globalLimiter))

	// Stricter limit and a 1MB body cap for inbox posts
	apLimiter := NewRateLimiter(rate.Limit(5), 10)
	maxBodySize := MaxBytesMiddleware(1 * 1024 * 1024)

	g.GET("/.well-known/webfinger", func(c *gin.Context) {
		resource := c.Query("resource")
		if resource == "" || !strings.HasPrefix(resource, "acct:") {
			c.JSON(404, gin.H{"detail": "Not Found"})
			return
		}
		resource = strings.TrimPrefix(resource, "acct:")
		resource = strings.TrimSuffix(resource, fmt.Sprintf("@%s", s.conf.Conf.SslDomain))

		err, doc := s.GetWebfinger(resource)
		if err != nil {
			c.JSON(404, gin.H{"detail": "Not Found"})
			return
		}
		c.Header("Content-Type", "application/jrd+json; charset=utf-8")
		c.JSON(200, doc)
	})

	g.GET("/users/:actor", func(c *gin.Context) {
		err, doc := s.GetActor(c.Request.Context(), c.Param("actor"))
		if err != nil {
			c.JSON(404, gin.H{"error": "Actor not found"})
			return
		}
		c.Header("Content-Type", activityJSON)
		c.JSON(200, doc)
	})

	collections := map[string]func(string, int) (error, map[string]interface{}){
		"outbox":    s.GetOutbox,
		"followers": s.GetFollowers,
		"following": s.GetFollowing,
		"liked":     s.GetLiked,
	}
	for name, handler := range collections {
		handler := handler
		g.GET(fmt.Sprintf("/users/:actor/%s", name), func(c *gin.Context) {
			err, doc := handler(c.Param("actor"), parsePage(c))
			if err != nil {
				c.JSON(404, gin.H{"error": "Actor not found"})
				return
			}
			c.Header("Content-Type", activityJSON)
			c.JSON(200, doc)
		})
	}

	g.GET("/notes/:id", func(c *gin.Context) {
		noteId, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(404, gin.H{"error": "Invalid note ID"})
			return
		}
		err, doc := s.GetNoteObject(noteId)
		if err != nil {
			c.JSON(404, gin.H{"error": "Note not found"})
			return
		}
		c.Header("Content-Type", activityJSON)
		c.JSON(200, doc)
	})

	g.POST("/users/:actor/inbox", RateLimitMiddleware(apLimiter), maxBodySize, func(c *gin.Context) {
		s.inbox.Handle(c.Writer, c.Request, c.Param("actor"))
	})

	g.POST("/inbox", RateLimitMiddleware(apLimiter), maxBodySize, func(c *gin.Context) {
		s.handleSharedInbox(c)
	})

	return g
}

// Run starts the HTTP server.
func (s *Server) Run() error {
	log.Infof("Starting federation server on %s:%d", s.conf.Conf.Host, s.conf.Conf.HttpPort)
	return s.Router().Run(fmt.Sprintf(":%d", s.conf.Conf.HttpPort))
}

func parsePage(c *gin.Context) int {
	page, err := strconv.Atoi(c.Query("page"))
	if err != nil || page < 1 {
		return 0
	}
	return page
}

// handleSharedInbox routes an activity posted to the instance-level
// inbox to the local account it targets, then delegates to the inbox
// processor with the body restored.
func (s *Server) handleSharedInbox(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		log.Warnf("Shared inbox: failed to read body: %v", err)
		c.Status(400)
		return
	}

	var activity map[string]interface{}
	if err := json.Unmarshal(body, &activity); err != nil {
		log.Warnf("Shared inbox: failed to parse activity: %v", err)
		c.Status(400)
		return
	}

	username := s.resolveSharedInboxTarget(activity)
	if username == "" {
		log.Warnf("Shared inbox: no local target for %v activity", activity["type"])
		// Acknowledge anyway; there is nothing to deliver to.
		c.Status(202)
		return
	}

	log.Debugf("Shared inbox: routing to %s", username)
	req := c.Request.Clone(c.Request.Context())
	req.Body = io.NopCloser(bytes.NewReader(body))
	s.inbox.Handle(c.Writer, req, username)
}

// resolveSharedInboxTarget finds the local username an activity is
// addressed to: first from the to and cc lists, then from the object of
// a Follow, and finally by finding a local account that follows the
// sending actor.
func (s *Server) resolveSharedInboxTarget(activity map[string]interface{}) string {
	for _, field := range []string{"to", "cc"} {
		if list, ok := activity[field].([]interface{}); ok {
			for _, entry := range list {
				if uri, ok := entry.(string); ok {
					if username := s.localUsernameFromURI(uri); username != "" {
						return username
					}
				}
			}
		}
	}

	if objectURI, ok := activity["object"].(string); ok {
		if username := s.localUsernameFromURI(objectURI); username != "" {
			return username
		}
	}

	// Create/Delete/Undo from a followed actor carry no local address;
	// route to a local follower of the sender.
	actorURI, _ := activity["actor"].(string)
	if actorURI == "" {
		return ""
	}
	err, remote := s.store.ReadRemoteAccountByURI(actorURI)
	if err != nil || remote == nil {
		return ""
	}
	err, follows := s.store.ReadFollowersByTargetId(remote.Id)
	if err != nil || follows == nil {
		return ""
	}
	for _, follow := range *follows {
		err, local := s.store.ReadAccById(follow.AccountId)
		if err != nil || local == nil {
			continue
		}
		return local.Username
	}
	return ""
}

// localUsernameFromURI extracts the username from a local actor URI or
// one of its collection URIs, e.g. https://host/users/alice/followers.
func (s *Server) localUsernameFromURI(uri string) string {
	if !strings.Contains(uri, s.conf.Conf.SslDomain) || !strings.Contains(uri, "/users/") {
		return ""
	}
	parts := strings.Split(uri, "/")
	for i, part := range parts {
		if part == "users" && i+1 < len(parts) {
			return parts[i+1]
		}
	}
	return ""
}
