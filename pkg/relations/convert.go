package relations

import (
	v1 "github.com/authzed/authzed-go/proto/authzed/api/v1"

	"github.com/relationsync/relationsync/pkg/tuple"
)

func toV1(r tuple.Relationship) *v1.Relationship {
	return &v1.Relationship{
		Resource: &v1.ObjectReference{
			ObjectType: r.Object.Type,
			ObjectId:   r.Object.ID,
		},
		Relation: r.Relation,
		Subject: &v1.SubjectReference{
			Object: &v1.ObjectReference{
				ObjectType: r.Subject.Object.Type,
				ObjectId:   r.Subject.Object.ID,
			},
			OptionalRelation: r.Subject.Relation,
		},
	}
}

func fromV1(r *v1.Relationship) tuple.Relationship {
	return tuple.Relationship{
		Object: tuple.ObjectReference{
			Type: r.GetResource().GetObjectType(),
			ID:   r.GetResource().GetObjectId(),
		},
		Relation: r.GetRelation(),
		Subject: tuple.SubjectReference{
			Object: tuple.ObjectReference{
				Type: r.GetSubject().GetObject().GetObjectType(),
				ID:   r.GetSubject().GetObject().GetObjectId(),
			},
			Relation: r.GetSubject().GetOptionalRelation(),
		},
	}
}

func toV1Filter(f Filter) *v1.RelationshipFilter {
	filter := &v1.RelationshipFilter{
		ResourceType:       f.ObjectType,
		OptionalResourceId: f.ObjectID,
		OptionalRelation:   f.Relation,
	}
	if f.SubjectType != "" {
		subject := &v1.SubjectFilter{
			SubjectType:       f.SubjectType,
			OptionalSubjectId: f.SubjectID,
		}
		if f.SubjectRelation != "" {
			subject.OptionalRelation = &v1.SubjectFilter_RelationFilter{Relation: f.SubjectRelation}
		}
		filter.OptionalSubjectFilter = subject
	}
	return filter
}
