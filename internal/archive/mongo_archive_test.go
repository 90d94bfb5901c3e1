package archive

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/suite"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/wengzhiwen/runjplib-pipeline/internal/testutil"
)

type MongoArchiveTestSuite struct {
	suite.Suite
	client  *mongo.Client
	db      *mongo.Database
	archive *MongoArchive
}

func TestMongoArchiveSuite(t *testing.T) {
	endpoint := testutil.GetMongoURI(t)

	client, err := mongo.Connect(options.Client().ApplyURI(endpoint))
	if err != nil {
		t.Fatalf("mongo.Connect failed: %v", err)
	}
	t.Cleanup(func() {
		_ = client.Disconnect(context.Background())
	})

	testsuite := new(MongoArchiveTestSuite)
	testsuite.client = client
	testsuite.db = client.Database("runjplib_archive_test")
	testsuite.archive = NewMongoArchive(testsuite.db, "")
	suite.Run(t, testsuite)
}

func (m *MongoArchiveTestSuite) SetupTest() {
	err := m.db.Drop(context.Background())
	m.NoErrorf(err, "dropping archive test db failed: %v", err)
}

type archivedContentDoc struct {
	OriginalMD   string        `bson:"original_md"`
	TranslatedMD string        `bson:"translated_md"`
	ReportMD     string        `bson:"report_md"`
	PDFFileID    bson.ObjectID `bson:"pdf_file_id"`
}

type archivedUniversityDoc struct {
	UniversityName   string             `bson:"university_name"`
	UniversityNameZH string             `bson:"university_name_zh"`
	IsPremium        bool               `bson:"is_premium"`
	Content          archivedContentDoc `bson:"content"`
}

type gridfsFileDoc struct {
	Metadata struct {
		TaskID string `bson:"task_id"`
	} `bson:"metadata"`
}

func (m *MongoArchiveTestSuite) TestSaveResult() {
	ctx := context.Background()

	pdf := filepath.Join(m.T().TempDir(), "source.pdf")
	err := os.WriteFile(pdf, []byte("%PDF-1.4 archive me"), 0o644)
	m.NoErrorf(err, "writing source pdf failed: %v", err)

	rec, err := m.archive.SaveResult(ctx, pdf, Result{
		TaskID:           "task-789",
		UniversityName:   "早稲田試験大学",
		UniversityNameZH: "早稻田试验大学",
		OriginalMD:       "# 原文",
		TranslatedMD:     "# 译文",
		ReportMD:         "# 报告",
	})
	m.NoErrorf(err, "SaveResult failed: %v", err)
	m.NotEmpty(rec.ContentID)
	m.NotEmpty(rec.PDFFileID)

	// Content record holds the markdown trio and points at the blob.
	var doc archivedUniversityDoc
	err = m.db.Collection("universities").
		FindOne(ctx, bson.M{"university_name": "早稲田試験大学"}).Decode(&doc)
	m.NoErrorf(err, "content record not found: %v", err)
	m.Equal("早稻田试验大学", doc.UniversityNameZH)
	m.False(doc.IsPremium)
	m.Equal("# 原文", doc.Content.OriginalMD)
	m.Equal("# 译文", doc.Content.TranslatedMD)
	m.Equal("# 报告", doc.Content.ReportMD)
	m.Equal(rec.PDFFileID, doc.Content.PDFFileID.Hex())

	// The blob is in GridFS with the task id in its metadata.
	var fileDoc gridfsFileDoc
	err = m.db.Collection("fs.files").
		FindOne(ctx, bson.M{"_id": doc.Content.PDFFileID}).Decode(&fileDoc)
	m.NoErrorf(err, "gridfs file doc not found: %v", err)
	m.Equal("task-789", fileDoc.Metadata.TaskID)
}

func (m *MongoArchiveTestSuite) TestSaveResultRejectsIncomplete() {
	_, err := m.archive.SaveResult(context.Background(), "unused.pdf", Result{
		TaskID:       "task-790",
		TranslatedMD: "# 译文",
	})
	m.Error(err, "incomplete result must be rejected")
}
