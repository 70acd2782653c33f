package dataset

// Fixed names inside the dataset root. The raw layout follows the CelebA
// distribution; derived stages use the imgs/ convention.
const (
	RawImagesDir  = "img_align_celeba"
	LandmarksFile = "list_landmarks_align_celeba.csv"
	BBoxFile      = "list_bbox_celeba.csv"
	PartitionFile = "list_eval_partition.csv"
	AttrFile      = "list_attr_celeba.csv"

	// ImagesDir is the per-stage image subdirectory under each variant root.
	ImagesDir = "imgs"

	// AlignedBBoxFile holds aligned-space boxes next to the aligned images.
	AlignedBBoxFile = "list_bbox.csv"

	// DegradeManifestFile and RestoreManifestFile live under the logs dir.
	DegradeManifestFile = "degrade_manifest.csv"
	RestoreManifestFile = "restore_manifest.csv"
)
