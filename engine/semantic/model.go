package semantic

import (
	"strings"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"

	"github.com/ozgurozbekuk/asylumapp/engine/domain"
)

// Payload keys written for every chunk point.
const (
	keyChunkID     = "chunk_id"
	keySector      = "sector"
	keyLanguage    = "language"
	keyText        = "text"
	keySource      = "source"
	keySourceKey   = "source_key" // lower-cased source for case-insensitive filters
	keyURL         = "url"
	keySourceURL   = "source_url"
	keyPublisher   = "publisher"
	keyTitle       = "title"
	keyHeadingPath = "heading_path"
	keyOwner       = "owner"
	keyDocID       = "doc_id"
	keyPageStart   = "page_start"
	keyPageEnd     = "page_end"
	keyContentHash = "content_hash"
)

// chunkNamespace derives stable point ids for chunk ids that are not UUIDs.
var chunkNamespace = uuid.MustParse("5b0f3c2e-8a1d-4c53-9a57-0c4f7c1e2d11")

// PointID returns the Qdrant point id for a chunk id. UUIDs are used as-is,
// anything else maps to a deterministic SHA-1 UUID.
func PointID(chunkID string) string {
	if id, err := uuid.Parse(chunkID); err == nil {
		return id.String()
	}
	return uuid.NewSHA1(chunkNamespace, []byte(chunkID)).String()
}

func toPoint(c domain.Chunk) *pb.PointStruct {
	m := c.Metadata
	payload := map[string]*pb.Value{
		keyChunkID: stringValue(c.ID),
		keySector:  stringValue(c.Sector),
		keyText:    stringValue(c.Text),
	}
	setString(payload, keyLanguage, c.Language)
	setString(payload, keySource, m.Source)
	setString(payload, keySourceKey, strings.ToLower(strings.TrimSpace(m.Source)))
	setString(payload, keyURL, m.URL)
	setString(payload, keySourceURL, m.SourceURL)
	setString(payload, keyPublisher, m.Publisher)
	setString(payload, keyTitle, m.Title)
	setString(payload, keyOwner, m.Owner)
	setString(payload, keyDocID, m.DocID)
	setString(payload, keyContentHash, m.ContentHash)
	if m.PageStart != 0 {
		payload[keyPageStart] = &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: int64(m.PageStart)}}
	}
	if m.PageEnd != 0 {
		payload[keyPageEnd] = &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: int64(m.PageEnd)}}
	}
	if len(m.HeadingPath) > 0 {
		values := make([]*pb.Value, len(m.HeadingPath))
		for i, h := range m.HeadingPath {
			values[i] = stringValue(h)
		}
		payload[keyHeadingPath] = &pb.Value{Kind: &pb.Value_ListValue{ListValue: &pb.ListValue{Values: values}}}
	}

	return &pb.PointStruct{
		Id: &pb.PointId{
			PointIdOptions: &pb.PointId_Uuid{Uuid: PointID(c.ID)},
		},
		Vectors: &pb.Vectors{
			VectorsOptions: &pb.Vectors_Vector{
				Vector: &pb.Vector{Data: c.Embedding},
			},
		},
		Payload: payload,
	}
}

func fromPoint(p *pb.RetrievedPoint) domain.Chunk {
	payload := p.GetPayload()
	str := func(k string) string { return payload[k].GetStringValue() }

	c := domain.Chunk{
		ID:       str(keyChunkID),
		Sector:   str(keySector),
		Language: str(keyLanguage),
		Text:     str(keyText),
		Metadata: domain.ChunkMetadata{
			Source:      str(keySource),
			URL:         str(keyURL),
			SourceURL:   str(keySourceURL),
			Publisher:   str(keyPublisher),
			Title:       str(keyTitle),
			Owner:       str(keyOwner),
			DocID:       str(keyDocID),
			PageStart:   int(payload[keyPageStart].GetIntegerValue()),
			PageEnd:     int(payload[keyPageEnd].GetIntegerValue()),
			ContentHash: str(keyContentHash),
		},
	}
	if c.ID == "" {
		c.ID = p.GetId().GetUuid()
	}
	for _, v := range payload[keyHeadingPath].GetListValue().GetValues() {
		c.Metadata.HeadingPath = append(c.Metadata.HeadingPath, v.GetStringValue())
	}
	if vec := p.GetVectors().GetVector(); vec != nil {
		if dense := vec.GetDense(); dense != nil {
			c.Embedding = dense.GetData()
		} else {
			c.Embedding = vec.GetData()
		}
	}
	return c
}

func stringValue(s string) *pb.Value {
	return &pb.Value{Kind: &pb.Value_StringValue{StringValue: s}}
}

func setString(payload map[string]*pb.Value, key, val string) {
	if val != "" {
		payload[key] = stringValue(val)
	}
}
