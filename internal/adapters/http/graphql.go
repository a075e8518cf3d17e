package http

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/graphql-go/graphql"

	"github.com/tvdoutor/screenfinder/internal/core/domain"
	"github.com/tvdoutor/screenfinder/internal/core/usecases"
	"github.com/tvdoutor/screenfinder/internal/pkg/pricing"
)

// buildSchema creates the GraphQL schema wired to our services.
func buildSchema(deps *Dependencies) (graphql.Schema, error) {
	coordinateType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Coordinate",
		Fields: graphql.Fields{
			"lat": &graphql.Field{Type: graphql.Float},
			"lng": &graphql.Field{Type: graphql.Float},
		},
	})

	screenFields := func() graphql.Fields {
		return graphql.Fields{
			"id":           &graphql.Field{Type: graphql.String},
			"code":         &graphql.Field{Type: graphql.String},
			"name":         &graphql.Field{Type: graphql.String},
			"display_name": &graphql.Field{Type: graphql.String},
			"city":         &graphql.Field{Type: graphql.String},
			"state":        &graphql.Field{Type: graphql.String},
			"class":        &graphql.Field{Type: graphql.String},
			"active":       &graphql.Field{Type: graphql.Boolean},
			"coordinate":   &graphql.Field{Type: coordinateType},
		}
	}

	screenType := graphql.NewObject(graphql.ObjectConfig{Name: "Screen", Fields: screenFields()})

	resultFields := screenFields()
	resultFields["distance_km"] = &graphql.Field{Type: graphql.Float}
	resultFields["weekly_price"] = &graphql.Field{Type: graphql.String, Description: "Decimal, BRL"}
	resultFields["total_price"] = &graphql.Field{Type: graphql.String, Description: "Decimal, BRL"}
	resultFields["weekly_reach"] = &graphql.Field{Type: graphql.Int}
	resultType := graphql.NewObject(graphql.ObjectConfig{Name: "SearchResult", Fields: resultFields})

	geocodeType := graphql.NewObject(graphql.ObjectConfig{
		Name: "GeocodeResult",
		Fields: graphql.Fields{
			"coordinate":        &graphql.Field{Type: coordinateType},
			"formatted_address": &graphql.Field{Type: graphql.String},
			"place_id":          &graphql.Field{Type: graphql.String},
		},
	})

	addressSearchType := graphql.NewObject(graphql.ObjectConfig{
		Name: "AddressSearch",
		Fields: graphql.Fields{
			"no_match":  &graphql.Field{Type: graphql.Boolean},
			"geocode":   &graphql.Field{Type: geocodeType},
			"radius_km": &graphql.Field{Type: graphql.Float},
			"results":   &graphql.Field{Type: graphql.NewList(resultType)},
		},
	})

	quoteType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Quote",
		Fields: graphql.Fields{
			"class":        &graphql.Field{Type: graphql.String},
			"weeks":        &graphql.Field{Type: graphql.Int},
			"base_price":   &graphql.Field{Type: graphql.String},
			"discount":     &graphql.Field{Type: graphql.String},
			"weekly_price": &graphql.Field{Type: graphql.String},
			"total_price":  &graphql.Field{Type: graphql.String},
			"weekly_reach": &graphql.Field{Type: graphql.Int},
		},
	})

	heatmapType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Heatmap",
		Fields: graphql.Fields{
			"points": &graphql.Field{Type: graphql.NewList(graphql.NewObject(graphql.ObjectConfig{
				Name: "HeatmapPoint",
				Fields: graphql.Fields{
					"screen_id": &graphql.Field{Type: graphql.String},
					"name":      &graphql.Field{Type: graphql.String},
					"city":      &graphql.Field{Type: graphql.String},
					"lat":       &graphql.Field{Type: graphql.Float},
					"lng":       &graphql.Field{Type: graphql.Float},
					"count":     &graphql.Field{Type: graphql.Int},
					"intensity": &graphql.Field{Type: graphql.Float},
					"cell":      &graphql.Field{Type: graphql.String},
				},
			}))},
			"cells": &graphql.Field{Type: graphql.NewList(graphql.NewObject(graphql.ObjectConfig{
				Name: "HeatmapCell",
				Fields: graphql.Fields{
					"cell":      &graphql.Field{Type: graphql.String},
					"lat":       &graphql.Field{Type: graphql.Float},
					"lng":       &graphql.Field{Type: graphql.Float},
					"screens":   &graphql.Field{Type: graphql.Int},
					"count":     &graphql.Field{Type: graphql.Int},
					"intensity": &graphql.Field{Type: graphql.Float},
				},
			}))},
			"total_screens": &graphql.Field{Type: graphql.Int},
			"max_intensity": &graphql.Field{Type: graphql.Float},
			"avg_intensity": &graphql.Field{Type: graphql.Float},
			"cities_count":  &graphql.Field{Type: graphql.Int},
		},
	})

	searchArgs := graphql.FieldConfigArgument{
		"radius": &graphql.ArgumentConfig{Type: graphql.Float, DefaultValue: domain.DefaultRadiusKm},
		"weeks":  &graphql.ArgumentConfig{Type: graphql.Int, DefaultValue: 1},
	}
	withArgs := func(extra graphql.FieldConfigArgument) graphql.FieldConfigArgument {
		out := graphql.FieldConfigArgument{}
		for k, v := range searchArgs {
			out[k] = v
		}
		for k, v := range extra {
			out[k] = v
		}
		return out
	}

	queryType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Query",
		Fields: graphql.Fields{
			"searchNear": &graphql.Field{
				Type:        graphql.NewList(resultType),
				Description: "Screens within a radius of a point, nearest first",
				Args: withArgs(graphql.FieldConfigArgument{
					"lat": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.Float)},
					"lng": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.Float)},
				}),
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					q := domain.SearchQuery{
						Center:        domain.Coordinate{Lat: p.Args["lat"].(float64), Lng: p.Args["lng"].(float64)},
						RadiusKm:      p.Args["radius"].(float64),
						DurationWeeks: p.Args["weeks"].(int),
					}
					results, err := deps.Search.SearchNear(p.Context, q)
					if err != nil {
						return nil, err
					}
					return resultMaps(results), nil
				},
			},
			"searchAddress": &graphql.Field{
				Type:        addressSearchType,
				Description: "Geocode an address and search around it",
				Args: withArgs(graphql.FieldConfigArgument{
					"address": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				}),
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					params := usecases.SearchParams{RadiusKm: p.Args["radius"].(float64), DurationWeeks: p.Args["weeks"].(int)}
					res, err := deps.Search.SearchAddress(p.Context, p.Args["address"].(string), params)
					if errors.Is(err, domain.ErrNoMatch) {
						return map[string]interface{}{"no_match": true, "results": []interface{}{}}, nil
					}
					if err != nil {
						return nil, err
					}
					return map[string]interface{}{
						"no_match":  false,
						"geocode":   geocodeMap(&res.Geocode),
						"radius_km": res.Query.RadiusKm,
						"results":   resultMaps(res.Results),
					}, nil
				},
			},
			"geocode": &graphql.Field{
				Type:        geocodeType,
				Description: "Resolve a free-text address",
				Args: graphql.FieldConfigArgument{
					"address": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					geo, err := deps.Search.Geocode(p.Context, p.Args["address"].(string))
					if err != nil {
						return nil, err
					}
					return geocodeMap(geo), nil
				},
			},
			"screen": &graphql.Field{
				Type:        screenType,
				Description: "Get a screen by ID",
				Args: graphql.FieldConfigArgument{
					"id": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					s, err := deps.Search.Screen(p.Context, p.Args["id"].(string))
					if err != nil {
						return nil, err
					}
					return screenMap(*s), nil
				},
			},
			"quote": &graphql.Field{
				Type:        quoteType,
				Description: "Weekly price and reach of a screen class",
				Args: graphql.FieldConfigArgument{
					"class": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
					"weeks": &graphql.ArgumentConfig{Type: graphql.Int, DefaultValue: 1},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					weeks := p.Args["weeks"].(int)
					q := pricing.PriceAndReach(domain.ParseClassTag(p.Args["class"].(string)), weeks)
					return map[string]interface{}{
						"class":        string(q.Class),
						"weeks":        q.Weeks,
						"base_price":   q.BasePrice.String(),
						"discount":     q.Discount.String(),
						"weekly_price": q.WeeklyPrice.StringFixed(2),
						"total_price":  pricing.Total(q, weeks).StringFixed(2),
						"weekly_reach": q.WeeklyReach,
					}, nil
				},
			},
			"heatmap": &graphql.Field{
				Type:        heatmapType,
				Description: "Proposal intensity per screen, cached for five minutes",
				Args: graphql.FieldConfigArgument{
					"date_from": &graphql.ArgumentConfig{Type: graphql.String, Description: "YYYY-MM-DD"},
					"date_to":   &graphql.ArgumentConfig{Type: graphql.String, Description: "YYYY-MM-DD"},
					"city":      &graphql.ArgumentConfig{Type: graphql.String},
					"class":     &graphql.ArgumentConfig{Type: graphql.String},
					"normalize": &graphql.ArgumentConfig{Type: graphql.Boolean, DefaultValue: false},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					f := domain.HeatmapFilter{Normalize: p.Args["normalize"].(bool)}
					f.City, _ = p.Args["city"].(string)
					f.Class, _ = p.Args["class"].(string)
					for name, dst := range map[string]*time.Time{"date_from": &f.DateFrom, "date_to": &f.DateTo} {
						if s, ok := p.Args[name].(string); ok && s != "" {
							t, err := time.Parse(time.DateOnly, s)
							if err != nil {
								return nil, errors.New(name + " must be YYYY-MM-DD")
							}
							*dst = t
						}
					}
					payload, err := deps.Heatmap.Heatmap(p.Context, f)
					if err != nil {
						return nil, err
					}
					return heatmapMap(payload), nil
				},
			},
		},
	})

	return graphql.NewSchema(graphql.SchemaConfig{
		Query: queryType,
	})
}

// GraphQLHandler serves the GraphQL endpoint.
func GraphQLHandler(deps *Dependencies) fiber.Handler {
	schema, err := buildSchema(deps)
	if err != nil {
		// This would be a programming error in the schema definition
		panic("graphql schema build: " + err.Error())
	}

	type gqlRequest struct {
		Query         string                 `json:"query"`
		OperationName string                 `json:"operationName"`
		Variables     map[string]interface{} `json:"variables"`
	}

	return func(c *fiber.Ctx) error {
		var req gqlRequest
		if err := c.BodyParser(&req); err != nil {
			return errBadRequest(c, "invalid request body")
		}

		result := graphql.Do(graphql.Params{
			Schema:         schema,
			RequestString:  req.Query,
			VariableValues: req.Variables,
			OperationName:  req.OperationName,
			Context:        c.UserContext(),
		})

		return c.JSON(result)
	}
}

// graphql-go resolves fields from maps; the domain types embed structs and
// decimals, so results are flattened here.

func coordinateMap(c *domain.Coordinate) interface{} {
	if c == nil {
		return nil
	}
	return map[string]interface{}{"lat": c.Lat, "lng": c.Lng}
}

func screenMap(s domain.ScreenRecord) map[string]interface{} {
	return map[string]interface{}{
		"id":           s.ID,
		"code":         s.Code,
		"name":         s.Name,
		"display_name": s.DisplayName,
		"city":         s.City,
		"state":        s.State,
		"class":        string(s.Class),
		"active":       s.Active,
		"coordinate":   coordinateMap(s.Coordinate),
	}
}

func resultMaps(results []domain.SearchResult) []interface{} {
	out := make([]interface{}, 0, len(results))
	for _, r := range results {
		m := screenMap(r.ScreenRecord)
		m["distance_km"] = r.DistanceKm
		m["weekly_price"] = r.WeeklyPrice.StringFixed(2)
		m["total_price"] = r.TotalPrice.StringFixed(2)
		m["weekly_reach"] = r.WeeklyReach
		out = append(out, m)
	}
	return out
}

func geocodeMap(g *domain.GeocodeResult) map[string]interface{} {
	return map[string]interface{}{
		"coordinate":        coordinateMap(&g.Coordinate),
		"formatted_address": g.FormattedAddress,
		"place_id":          g.PlaceID,
	}
}

func heatmapMap(p *domain.HeatmapPayload) map[string]interface{} {
	points := make([]interface{}, 0, len(p.Points))
	for _, pt := range p.Points {
		points = append(points, map[string]interface{}{
			"screen_id": pt.ScreenID, "name": pt.Name, "city": pt.City,
			"lat": pt.Lat, "lng": pt.Lng, "count": pt.Count, "intensity": pt.Intensity, "cell": pt.Cell,
		})
	}
	cells := make([]interface{}, 0, len(p.Cells))
	for _, c := range p.Cells {
		cells = append(cells, map[string]interface{}{
			"cell": c.Cell, "lat": c.Lat, "lng": c.Lng, "screens": c.Screens, "count": c.Count, "intensity": c.Intensity,
		})
	}
	return map[string]interface{}{
		"points":        points,
		"cells":         cells,
		"total_screens": p.Stats.TotalScreens,
		"max_intensity": p.Stats.MaxIntensity,
		"avg_intensity": p.Stats.AvgIntensity,
		"cities_count":  p.Stats.CitiesCount,
	}
}
