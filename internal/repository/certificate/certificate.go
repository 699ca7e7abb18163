package certificate

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"castle_chat/internal/model"
)

type (
	CertificateRepo struct {
		collection *mongo.Collection
	}
)

func NewCertificateRepo(db *mongo.Database) *CertificateRepo {
	return &CertificateRepo{
		collection: db.Collection("certificates"),
	}
}

// GetByName returns nil, nil when no certificate was issued for name.
func (r *CertificateRepo) GetByName(ctx context.Context, name string) (*model.Certificate, error) {
	filter := bson.M{
		"username": name,
	}

	var cert model.Certificate
	err := r.collection.FindOne(ctx, filter).Decode(&cert)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}

	if err != nil {
		return nil, err
	}

	return &cert, nil
}

// Put stores cert, replacing any earlier certificate for the same user.
func (r *CertificateRepo) Put(ctx context.Context, cert *model.Certificate) error {
	_, err := r.collection.ReplaceOne(ctx,
		bson.M{"username": cert.Username},
		cert,
		options.Replace().SetUpsert(true),
	)
	return err
}
