package catalog

import (
	"github.com/l0p7/iowa/internal/cache"
	"github.com/l0p7/iowa/internal/upstream"
)

// Champion returns the state of one champion.
func (c *Catalog) Champion(region, id string, opts ...Option) upstream.Request {
	return c.build(upstream.Request{
		Region:         region,
		Path:           "/lol/platform/v3/champions/{id}",
		PathParameters: map[string]any{"id": id},
	}, cache.Policy{Identifier: "champion/" + id, TTL: c.tiers.VeryLong}, opts)
}

// Champions lists champion states. The free rotation is cached separately and for
// longer than the full list.
func (c *Catalog) Champions(region string, freeToPlay bool, opts ...Option) upstream.Request {
	ttl := c.tiers.Long
	if freeToPlay {
		ttl = c.tiers.VeryLong
	}
	query := map[string]any{"freeToPlay": freeToPlay}
	return c.build(upstream.Request{
		Region:          region,
		Path:            "/lol/platform/v3/champions",
		QueryParameters: query,
	}, cache.Policy{Identifier: "champions", ExtraParams: query, TTL: ttl}, opts)
}

// ChampionMastery returns one summoner's mastery of one champion.
func (c *Catalog) ChampionMastery(region, summonerID, championID string, opts ...Option) upstream.Request {
	return c.build(upstream.Request{
		Region:         region,
		Path:           "/lol/champion-mastery/v3/champion-masteries/by-summoner/{summonerId}/by-champion/{championId}",
		PathParameters: map[string]any{"summonerId": summonerID, "championId": championID},
	}, cache.Policy{Identifier: "summoner/" + summonerID + "/championMastery/" + championID, TTL: c.tiers.Medium}, opts)
}

// ChampionMasteries lists every champion mastery of a summoner.
func (c *Catalog) ChampionMasteries(region, summonerID string, opts ...Option) upstream.Request {
	return c.build(upstream.Request{
		Region:         region,
		Path:           "/lol/champion-mastery/v3/champion-masteries/by-summoner/{summonerId}",
		PathParameters: map[string]any{"summonerId": summonerID},
	}, cache.Policy{Identifier: "summoner/" + summonerID + "/championMastery/all", TTL: c.tiers.Medium}, opts)
}

// ChampionMasteryScore returns the summed mastery level of a summoner.
func (c *Catalog) ChampionMasteryScore(region, summonerID string, opts ...Option) upstream.Request {
	return c.build(upstream.Request{
		Region:         region,
		Path:           "/lol/champion-mastery/v3/scores/by-summoner/{summonerId}",
		PathParameters: map[string]any{"summonerId": summonerID},
	}, cache.Policy{Identifier: "summoner/" + summonerID + "/championMastery/score", TTL: c.tiers.Medium}, opts)
}

// LeaguesBySummoner returns leagues for one or more summoners.
func (c *Catalog) LeaguesBySummoner(region string, summonerIDs []string, opts ...Option) upstream.Request {
	return c.build(upstream.Request{
		Region:         region,
		Path:           "/lol/league/v3/leagues/by-summoner/{summonerIds}",
		PathParameters: map[string]any{"summonerIds": summonerIDs},
	}, cache.Policy{Identifier: "league/{dynamic_id}", DynamicIDs: summonerIDs, TTL: c.tiers.Medium}, opts)
}

// LeagueEntriesBySummoner returns league positions for one or more summoners.
func (c *Catalog) LeagueEntriesBySummoner(region string, summonerIDs []string, opts ...Option) upstream.Request {
	return c.build(upstream.Request{
		Region:         region,
		Path:           "/lol/league/v3/positions/by-summoner/{summonerIds}",
		PathParameters: map[string]any{"summonerIds": summonerIDs},
	}, cache.Policy{Identifier: "league/entry/{dynamic_id}", DynamicIDs: summonerIDs, TTL: c.tiers.Medium}, opts)
}

// ChallengerLeague returns the challenger tier for a queue.
func (c *Catalog) ChallengerLeague(region, queue string, opts ...Option) upstream.Request {
	return c.build(upstream.Request{
		Region:         region,
		Path:           "/lol/league/v3/challengerleagues/by-queue/{queue}",
		PathParameters: map[string]any{"queue": queue},
	}, cache.Policy{Identifier: "league/challenger", ExtraParams: params(map[string]any{"type": queue}), TTL: c.tiers.Medium}, opts)
}

// MasterLeague returns the master tier for a queue.
func (c *Catalog) MasterLeague(region, queue string, opts ...Option) upstream.Request {
	return c.build(upstream.Request{
		Region:         region,
		Path:           "/lol/league/v3/masterleagues/by-queue/{queue}",
		PathParameters: map[string]any{"queue": queue},
	}, cache.Policy{Identifier: "league/master", ExtraParams: params(map[string]any{"type": queue}), TTL: c.tiers.Medium}, opts)
}

// StaticChampions returns the champion list from static data.
func (c *Catalog) StaticChampions(region, locale string, tags []string, opts ...Option) upstream.Request {
	query := params(map[string]any{"locale": locale, "tags": tags, "dataById": "true"})
	return c.build(upstream.Request{
		Region:          region,
		Path:            "/lol/static-data/v3/champions",
		QueryParameters: query,
	}, cache.Policy{Identifier: "static/champions", ExtraParams: query, TTL: c.tiers.VeryLong}, opts)
}

// StaticItems returns the item list from static data.
func (c *Catalog) StaticItems(region, locale, version string, opts ...Option) upstream.Request {
	query := params(map[string]any{"locale": locale, "version": version})
	return c.build(upstream.Request{
		Region:          region,
		Path:            "/lol/static-data/v3/items",
		QueryParameters: query,
	}, cache.Policy{Identifier: "static/items", ExtraParams: query, TTL: c.tiers.VeryLong}, opts)
}

// StaticVersions lists the game versions.
func (c *Catalog) StaticVersions(region string, opts ...Option) upstream.Request {
	return c.build(upstream.Request{
		Region: region,
		Path:   "/lol/static-data/v3/versions",
	}, cache.Policy{Identifier: "static/versions", TTL: c.tiers.Medium}, opts)
}

// Match returns one match.
func (c *Catalog) Match(region, matchID string, opts ...Option) upstream.Request {
	return c.build(upstream.Request{
		Region:         region,
		Path:           "/lol/match/v3/matches/{matchId}",
		PathParameters: map[string]any{"matchId": matchID},
	}, cache.Policy{Identifier: "matches/" + matchID, TTL: c.tiers.Long}, opts)
}

// MatchlistFilter narrows a matchlist. Zero values are omitted.
type MatchlistFilter struct {
	Champions  []string
	Queues     []string
	Seasons    []string
	BeginTime  int64
	EndTime    int64
	BeginIndex int64
	EndIndex   int64
}

// Matchlist lists the matches of an account.
func (c *Catalog) Matchlist(region, accountID string, filter MatchlistFilter, opts ...Option) upstream.Request {
	query := params(map[string]any{
		"champion":   filter.Champions,
		"queue":      filter.Queues,
		"season":     filter.Seasons,
		"beginTime":  filter.BeginTime,
		"endTime":    filter.EndTime,
		"beginIndex": filter.BeginIndex,
		"endIndex":   filter.EndIndex,
	})
	return c.build(upstream.Request{
		Region:          region,
		Path:            "/lol/match/v3/matchlists/by-account/{accountId}",
		PathParameters:  map[string]any{"accountId": accountID},
		QueryParameters: query,
	}, cache.Policy{Identifier: "summoner/" + accountID + "/matchlist", ExtraParams: query, TTL: c.tiers.Short}, opts)
}

// SummonersByName resolves one or more summoner names.
func (c *Catalog) SummonersByName(region string, names []string, opts ...Option) upstream.Request {
	return c.build(upstream.Request{
		Region:         region,
		Path:           "/lol/summoner/v3/summoners/by-name/{summonerNames}",
		PathParameters: map[string]any{"summonerNames": names},
	}, cache.Policy{Identifier: "summoner/name/{dynamic_id}/profile", DynamicIDs: names, TTL: c.tiers.Long}, opts)
}

// SummonersByID resolves one or more summoner ids.
func (c *Catalog) SummonersByID(region string, summonerIDs []string, opts ...Option) upstream.Request {
	return c.build(upstream.Request{
		Region:         region,
		Path:           "/lol/summoner/v3/summoners/{summonerIds}",
		PathParameters: map[string]any{"summonerIds": summonerIDs},
	}, cache.Policy{Identifier: "summoner/{dynamic_id}/profile", DynamicIDs: summonerIDs, TTL: c.tiers.Long}, opts)
}

// Shards lists every shard from the status service. It is cached globally.
func (c *Catalog) Shards(opts ...Option) upstream.Request {
	return c.build(upstream.Request{
		FullURL: c.statusURL,
	}, cache.Policy{Identifier: "shards", TTL: c.tiers.Long}, opts)
}

// Shard returns the status of one region's shard.
func (c *Catalog) Shard(region string, opts ...Option) upstream.Request {
	return c.build(upstream.Request{
		Region:         region,
		FullURL:        c.statusURL + "/{region}",
		PathParameters: map[string]any{"region": region},
	}, cache.Policy{Identifier: "shards", TTL: c.tiers.VeryShort}, opts)
}
