package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/qdrant/go-client/qdrant"

	"github.com/loftcall/loftcall/pkg/core"
)

// Embedder turns a search query into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// OpenAIEmbedder embeds queries with the OpenAI embeddings API.
type OpenAIEmbedder struct {
	client openai.Client
	model  string
}

// NewOpenAIEmbedder creates an embedder. An empty model selects
// text-embedding-3-small.
func NewOpenAIEmbedder(apiKey, model string) *OpenAIEmbedder {
	if model == "" {
		model = string(openai.EmbeddingModelTextEmbedding3Small)
	}
	return &OpenAIEmbedder{
		client: openai.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}
}

// Embed implements Embedder.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := e.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfString: openai.String(text)},
		Model: openai.EmbeddingModel(e.model),
	})
	if err != nil {
		return nil, core.NewProviderError("openai-embeddings", err)
	}
	if len(resp.Data) == 0 {
		return nil, core.NewProviderError("openai-embeddings", errEmptyEmbedding)
	}
	vec := make([]float32, len(resp.Data[0].Embedding))
	for i, v := range resp.Data[0].Embedding {
		vec[i] = float32(v)
	}
	return vec, nil
}

var errEmptyEmbedding = fmt.Errorf("embedding response had no data")

// Listing is one search hit, flattened from the vector store payload.
type Listing struct {
	ID           string
	Score        float32
	Address      string
	Neighborhood string
	Bedrooms     int
	Bathrooms    int
	Sqft         int
	Rent         int
	Available    string
	Description  string
	PetFriendly  bool
	Parking      bool
	Laundry      string
	Amenities    []string
	ContactName  string
	ContactEmail string
}

// ListingSearch finds apartments by semantic similarity over the listing
// collection.
type ListingSearch struct {
	client     *qdrant.Client
	embedder   Embedder
	collection string
	topK       uint64
}

// NewListingSearch creates the search tool. topK <= 0 means 3.
func NewListingSearch(client *qdrant.Client, embedder Embedder, collection string, topK int) *ListingSearch {
	if topK <= 0 {
		topK = 3
	}
	return &ListingSearch{
		client:     client,
		embedder:   embedder,
		collection: collection,
		topK:       uint64(topK),
	}
}

// Name implements Tool.
func (s *ListingSearch) Name() string { return "apartment_search" }

// Description implements Tool.
func (s *ListingSearch) Description() string {
	return "Search available apartment listings in Austin, TX. " +
		"Accepts a natural language query such as '2 bedroom near downtown under $2000' " +
		"and returns the top matching listings with address, price, and details."
}

// ParametersSchema implements Tool.
func (s *ListingSearch) ParametersSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{
				"type": "string",
				"description": "Natural language search query describing the desired apartment, " +
					"e.g. '2 bedroom pet friendly with parking under $2500'",
			},
		},
		"required": []string{"query"},
	}
}

// Execute implements Tool.
func (s *ListingSearch) Execute(ctx context.Context, args map[string]string) (string, error) {
	query := args["query"]
	if query == "" {
		return "Please provide a search query describing what kind of apartment you're looking for.", nil
	}

	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return "", core.NewToolExecError(s.Name(), err)
	}

	points, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQuery(vec...),
		Limit:          &s.topK,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return "", core.NewToolExecError(s.Name(), err)
	}

	listings := make([]Listing, 0, len(points))
	for _, p := range points {
		listings = append(listings, listingFromPayload(p))
	}
	return FormatListings(listings), nil
}

// listingFromPayload flattens a scored point into a Listing.
func listingFromPayload(p *qdrant.ScoredPoint) Listing {
	pl := p.GetPayload()
	l := Listing{
		Score:        p.GetScore(),
		Address:      pl["address"].GetStringValue(),
		Neighborhood: pl["neighborhood"].GetStringValue(),
		Bedrooms:     int(pl["bedrooms"].GetIntegerValue()),
		Bathrooms:    int(pl["bathrooms"].GetIntegerValue()),
		Sqft:         int(pl["sqft"].GetIntegerValue()),
		Rent:         int(pl["rent"].GetIntegerValue()),
		Available:    pl["available_date"].GetStringValue(),
		Description:  pl["description"].GetStringValue(),
		PetFriendly:  pl["pet_friendly"].GetBoolValue(),
		Parking:      pl["parking"].GetBoolValue(),
		Laundry:      pl["laundry"].GetStringValue(),
		ContactName:  pl["contact_name"].GetStringValue(),
		ContactEmail: pl["contact_email"].GetStringValue(),
	}
	if id := pl["listing_id"].GetStringValue(); id != "" {
		l.ID = id
	} else if uid := p.GetId(); uid != nil {
		l.ID = uid.GetUuid()
	}
	for _, v := range pl["amenities"].GetListValue().GetValues() {
		if a := v.GetStringValue(); a != "" {
			l.Amenities = append(l.Amenities, a)
		}
	}
	return l
}

// FormatListings renders search hits as narration-ready text.
func FormatListings(listings []Listing) string {
	if len(listings) == 0 {
		return "I didn't find any apartments matching that description. " +
			"Could you try broadening your search?"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "I found %d apartment(s) that match:\n", len(listings))

	for i, l := range listings {
		fmt.Fprintf(&b, "\n--- Option %d (match score: %.0f%%) ---\n", i+1, l.Score*100)
		fmt.Fprintf(&b, "Listing ID: %s\n", l.ID)
		fmt.Fprintf(&b, "Address: %s, %s\n", l.Address, l.Neighborhood)
		fmt.Fprintf(&b, "Bedrooms: %d | Bathrooms: %d | Sqft: %d\n", l.Bedrooms, l.Bathrooms, l.Sqft)
		fmt.Fprintf(&b, "Rent: $%d/month\n", l.Rent)
		fmt.Fprintf(&b, "Available: %s\n", l.Available)
		if l.Description != "" {
			fmt.Fprintf(&b, "Description: %s\n", l.Description)
		}

		var extras []string
		if l.PetFriendly {
			extras = append(extras, "Pet friendly")
		}
		if l.Parking {
			extras = append(extras, "Parking included")
		}
		if l.Laundry != "" {
			extras = append(extras, "Laundry: "+l.Laundry)
		}
		if len(l.Amenities) > 0 {
			extras = append(extras, "Amenities: "+strings.Join(l.Amenities, ", "))
		}
		if len(extras) > 0 {
			b.WriteString(strings.Join(extras, " | ") + "\n")
		}

		if l.ContactName != "" {
			b.WriteString("Contact: " + l.ContactName)
			if l.ContactEmail != "" {
				b.WriteString(" (" + l.ContactEmail + ")")
			}
			b.WriteString("\n")
		}
	}
	return b.String()
}
