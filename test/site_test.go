// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package test

import (
	"context"
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"github.com/relabs-tech/homebase/core/backup"
	"github.com/relabs-tech/homebase/core/kv"
	"github.com/relabs-tech/homebase/services/shortener"
)

type SiteTestSuite struct {
	*IntegrationTestSuite
}

func TestSiteOnRedis(t *testing.T) {
	suite.Run(t, &SiteTestSuite{RedisSuite()})
}

func TestSiteOnPostgres(t *testing.T) {
	suite.Run(t, &SiteTestSuite{PostgresSuite()})
}

func (s *SiteTestSuite) TestBlog() {
	slug := "post-" + uuid.New().String()[:8]
	var post map[string]interface{}
	_, err := s.Admin().Collection("blog").Create(map[string]interface{}{
		"slug":      slug,
		"title":     "Integration",
		"content":   "stored in a real store",
		"published": true,
	}, &post)
	s.Require().NoError(err)
	s.Equal(slug, post["slug"])

	var read map[string]interface{}
	_, err = s.Anonymous().Collection("blog").Item(slug).Read(&read)
	s.Require().NoError(err)
	s.Equal("Integration", read["title"])

	status, err := s.Admin().Collection("blog").Create(map[string]interface{}{"slug": slug, "title": "Again"}, nil)
	s.Error(err)
	s.Equal(http.StatusConflict, status)
}

func (s *SiteTestSuite) TestCaseNumbers() {
	var first, second map[string]interface{}
	_, err := s.Admin().Collection("case").Create(map[string]interface{}{"title": "First", "year": 1999}, &first)
	s.Require().NoError(err)
	_, err = s.Admin().Collection("case").Create(map[string]interface{}{"title": "Second", "year": 1999}, &second)
	s.Require().NoError(err)
	s.Equal("CV-1999-0001", first["number"])
	s.Equal("CV-1999-0002", second["number"])
}

func (s *SiteTestSuite) TestShortLinks() {
	slug := "it-" + uuid.New().String()[:8]
	_, err := s.Admin().RawPost("/api/links", map[string]string{"url": "https://example.com", "slug": slug}, nil)
	s.Require().NoError(err)

	noRedirect := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}}
	res, err := noRedirect.Get(s.server.URL + "/s/" + slug)
	s.Require().NoError(err)
	res.Body.Close()
	s.Equal(http.StatusFound, res.StatusCode)
	s.Equal("https://example.com", res.Header.Get("Location"))

	var stats shortener.Stats
	_, err = s.Admin().RawGet("/api/links/"+slug+"/stats", &stats)
	s.Require().NoError(err)
	s.EqualValues(1, stats.Clicks)
	s.Len(stats.Recent, 1)
}

func (s *SiteTestSuite) TestSnapshot() {
	ctx := context.Background()
	_, err := s.Admin().Singleton("profile").Update(map[string]interface{}{"name": "Snapshot"}, nil)
	s.Require().NoError(err)

	snapshot, err := backup.Take(ctx, s.Store(), s.Key(""))
	s.Require().NoError(err)
	keys := map[string]kv.Type{}
	for _, entry := range snapshot.Entries {
		keys[entry.Key] = entry.Type
	}
	s.Equal(kv.TypeString, keys[s.Key("profile")])

	restored := kv.NewMemory()
	s.Require().NoError(backup.Restore(ctx, restored, snapshot))
	profile, err := restored.Get(ctx, s.Key("profile"))
	s.Require().NoError(err)
	s.Contains(profile, "Snapshot")
}
