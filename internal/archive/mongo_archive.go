package archive

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// MongoArchive is the production Archive. The PDF goes into GridFS and
// the markdown trio into one document in the universities collection,
// which is what the reading side of the site serves from.
type MongoArchive struct {
	db       *mongo.Database
	bucket   *mongo.GridFSBucket
	collName string
}

var _ Archive = (*MongoArchive)(nil)

// NewMongoArchive creates an archive over the given database. The
// collection name defaults to "universities" if empty.
func NewMongoArchive(db *mongo.Database, collName string) *MongoArchive {
	if collName == "" {
		collName = "universities"
	}
	return &MongoArchive{
		db:       db,
		bucket:   db.GridFSBucket(),
		collName: collName,
	}
}

func (a *MongoArchive) SaveResult(ctx context.Context, pdfPath string, res Result) (*Record, error) {
	if err := res.validate(); err != nil {
		return nil, err
	}

	f, err := os.Open(pdfPath)
	if err != nil {
		return nil, fmt.Errorf("open source pdf: %w", err)
	}
	defer f.Close()

	now := time.Now().UTC()
	deadline := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	uploadCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	// The blob gets a random filename; the human-readable one lives in
	// the metadata.
	pdfFileID, err := a.bucket.UploadFromStream(uploadCtx, uuid.NewString(), f,
		options.GridFSUpload().SetMetadata(bson.M{
			"university_name":    res.UniversityName,
			"university_name_zh": res.UniversityNameZH,
			"deadline":           deadline,
			"upload_time":        now,
			"original_filename":  archiveFilename(res.UniversityName, now),
			"task_id":            res.TaskID,
		}))
	if err != nil {
		return nil, fmt.Errorf("archive pdf to gridfs: %w", err)
	}

	doc := bson.M{
		"university_name":    res.UniversityName,
		"university_name_zh": res.UniversityNameZH,
		"deadline":           deadline,
		"created_at":         now,
		"is_premium":         false,
		"content": bson.M{
			"original_md":   res.OriginalMD,
			"translated_md": res.TranslatedMD,
			"report_md":     res.ReportMD,
			"pdf_file_id":   pdfFileID,
		},
	}

	insertCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	ins, err := a.db.Collection(a.collName).InsertOne(insertCtx, doc)
	if err != nil {
		return nil, fmt.Errorf("insert content record: %w", err)
	}

	contentID := fmt.Sprintf("%v", ins.InsertedID)
	if oid, ok := ins.InsertedID.(interface{ Hex() string }); ok {
		contentID = oid.Hex()
	}
	return &Record{ContentID: contentID, PDFFileID: pdfFileID.Hex()}, nil
}
