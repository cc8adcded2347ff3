package engine

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"strata-backend/internal/query"
)

// ParseReadOptions extracts the read surface from the query string:
//
//	filter={"status":{"_eq":"published"}}
//	sort=-created_at,title
//	fields=id,title&include=author.profile
//	aggregate={"total":{"func":"count","field":"*"}}&group_by=status
//	search=term&search_fields=title,body
//	limit=25&page=2 (or offset=50)
//	near=12.97,77.59
func ParseReadOptions(c *fiber.Ctx) (*query.ReadOptions, error) {
	opts := &query.ReadOptions{}

	if raw := c.Query("filter"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &opts.Filter); err != nil {
			return nil, query.InvalidPayloadError(fmt.Sprintf("Invalid filter JSON: %v", err))
		}
	}
	if raw := c.Query("aggregate"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &opts.Aggregate); err != nil {
			return nil, query.InvalidPayloadError(fmt.Sprintf("Invalid aggregate JSON: %v", err))
		}
	}

	opts.Sort = query.ParseSortString(c.Query("sort"))
	opts.Fields = splitList(c.Query("fields"))
	opts.Include = splitList(c.Query("include"))
	opts.GroupBy = splitList(c.Query("group_by"))
	opts.Search = c.Query("search")
	opts.SearchFields = splitList(c.Query("search_fields"))

	opts.Limit = c.QueryInt("limit")
	opts.Page = c.QueryInt("page")
	opts.Offset = c.QueryInt("offset")

	if raw := c.Query("near"); raw != "" {
		point, err := parseNear(raw)
		if err != nil {
			return nil, err
		}
		opts.Near = point
	}
	return opts, nil
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseNear(raw string) (*query.GeoPoint, error) {
	parts := strings.Split(raw, ",")
	if len(parts) != 2 {
		return nil, query.InvalidPayloadError("near must be lat,lng")
	}
	lat, err1 := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	lng, err2 := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err1 != nil || err2 != nil {
		return nil, query.InvalidPayloadError("near must be lat,lng")
	}
	return &query.GeoPoint{Lat: lat, Lng: lng}, nil
}
