package k8s

import (
	"context"
	"fmt"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"appcore/api/model"
)

func (c *Client) podTemplate(name, image string, port int, env map[string]string, res model.Resources, nodeSelector, labels map[string]string) (corev1.PodTemplateSpec, error) {
	reqs, err := resourceRequirements(res)
	if err != nil {
		return corev1.PodTemplateSpec{}, err
	}
	container := corev1.Container{
		Name:            name,
		Image:           image,
		ImagePullPolicy: imagePullPolicy(image),
		Env:             envVars(env),
		Resources:       reqs,
	}
	if port > 0 {
		container.Ports = []corev1.ContainerPort{{ContainerPort: int32(port)}}
	}
	return corev1.PodTemplateSpec{
		ObjectMeta: metav1.ObjectMeta{Labels: labels},
		Spec: corev1.PodSpec{
			Containers:   []corev1.Container{container},
			NodeSelector: nodeSelector,
		},
	}, nil
}

// --- Deployments ---

func (c *Client) CreateDeployment(ctx context.Context, namespace string, spec model.DeploymentSpec) error {
	labels := objectLabels(spec.Name, spec.Labels)
	tmpl, err := c.podTemplate(spec.Name, spec.Image, spec.Port, spec.EnvVars, spec.Resources, spec.NodeSelector, labels)
	if err != nil {
		return fmt.Errorf("create deployment %s: %w", spec.Name, err)
	}
	if len(spec.Volumes) > 0 {
		for _, v := range spec.Volumes {
			tmpl.Spec.Volumes = append(tmpl.Spec.Volumes, corev1.Volume{
				Name: v.Name,
				VolumeSource: corev1.VolumeSource{
					PersistentVolumeClaim: &corev1.PersistentVolumeClaimVolumeSource{ClaimName: v.PVCName},
				},
			})
			tmpl.Spec.Containers[0].VolumeMounts = append(tmpl.Spec.Containers[0].VolumeMounts,
				corev1.VolumeMount{Name: v.Name, MountPath: v.MountPath})
		}
	}

	dep := &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{Name: spec.Name, Namespace: namespace, Labels: labels},
		Spec: appsv1.DeploymentSpec{
			Replicas: ptr(int32(spec.Replicas)),
			Selector: &metav1.LabelSelector{MatchLabels: map[string]string{"app": spec.Name}},
			Template: tmpl,
		},
	}
	_, err = c.cs.AppsV1().Deployments(namespace).Create(ctx, dep, metav1.CreateOptions{})
	return wrap(err, "create deployment %s", spec.Name)
}

func (c *Client) UpdateDeployment(ctx context.Context, namespace, name string, upd model.WorkloadUpdate) error {
	dep, err := c.cs.AppsV1().Deployments(namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		return wrap(err, "get deployment %s", name)
	}
	dep.Spec.Replicas = ptr(int32(upd.Replicas))
	if err := applyUpdate(&dep.Spec.Template.Spec, upd); err != nil {
		return fmt.Errorf("update deployment %s: %w", name, err)
	}
	_, err = c.cs.AppsV1().Deployments(namespace).Update(ctx, dep, metav1.UpdateOptions{})
	return wrap(err, "update deployment %s", name)
}

func (c *Client) ScaleDeployment(ctx context.Context, namespace, name string, replicas int) error {
	dep, err := c.cs.AppsV1().Deployments(namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		return wrap(err, "get deployment %s", name)
	}
	dep.Spec.Replicas = ptr(int32(replicas))
	_, err = c.cs.AppsV1().Deployments(namespace).Update(ctx, dep, metav1.UpdateOptions{})
	return wrap(err, "scale deployment %s", name)
}

func (c *Client) DeleteDeployment(ctx context.Context, namespace, name string) error {
	err := c.cs.AppsV1().Deployments(namespace).Delete(ctx, name, metav1.DeleteOptions{})
	return wrap(ignoreNotFound(err), "delete deployment %s", name)
}

// --- StatefulSets ---

func (c *Client) CreateStatefulSet(ctx context.Context, namespace string, spec model.StatefulSetSpec) error {
	labels := objectLabels(spec.Name, spec.Labels)
	tmpl, err := c.podTemplate(spec.Name, spec.Image, spec.Port, spec.EnvVars, spec.Resources, spec.NodeSelector, labels)
	if err != nil {
		return fmt.Errorf("create statefulset %s: %w", spec.Name, err)
	}

	sts := &appsv1.StatefulSet{
		ObjectMeta: metav1.ObjectMeta{Name: spec.Name, Namespace: namespace, Labels: labels},
		Spec: appsv1.StatefulSetSpec{
			Replicas:    ptr(int32(spec.Replicas)),
			ServiceName: spec.Name,
			Selector:    &metav1.LabelSelector{MatchLabels: map[string]string{"app": spec.Name}},
			Template:    tmpl,
		},
	}
	// Mount the claim created ahead of the set; stateful apps run one replica.
	if vc := spec.VolumeClaimSpec; vc != nil {
		mount := spec.MountPath
		if mount == "" {
			mount = "/data"
		}
		sts.Spec.Template.Spec.Volumes = []corev1.Volume{{
			Name: "data",
			VolumeSource: corev1.VolumeSource{
				PersistentVolumeClaim: &corev1.PersistentVolumeClaimVolumeSource{ClaimName: vc.Name},
			},
		}}
		sts.Spec.Template.Spec.Containers[0].VolumeMounts = []corev1.VolumeMount{{Name: "data", MountPath: mount}}
	}
	_, err = c.cs.AppsV1().StatefulSets(namespace).Create(ctx, sts, metav1.CreateOptions{})
	return wrap(err, "create statefulset %s", spec.Name)
}

func (c *Client) UpdateStatefulSet(ctx context.Context, namespace, name string, upd model.WorkloadUpdate) error {
	sts, err := c.cs.AppsV1().StatefulSets(namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		return wrap(err, "get statefulset %s", name)
	}
	sts.Spec.Replicas = ptr(int32(upd.Replicas))
	if err := applyUpdate(&sts.Spec.Template.Spec, upd); err != nil {
		return fmt.Errorf("update statefulset %s: %w", name, err)
	}
	_, err = c.cs.AppsV1().StatefulSets(namespace).Update(ctx, sts, metav1.UpdateOptions{})
	return wrap(err, "update statefulset %s", name)
}

func (c *Client) ScaleStatefulSet(ctx context.Context, namespace, name string, replicas int) error {
	sts, err := c.cs.AppsV1().StatefulSets(namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		return wrap(err, "get statefulset %s", name)
	}
	sts.Spec.Replicas = ptr(int32(replicas))
	_, err = c.cs.AppsV1().StatefulSets(namespace).Update(ctx, sts, metav1.UpdateOptions{})
	return wrap(err, "scale statefulset %s", name)
}

func (c *Client) DeleteStatefulSet(ctx context.Context, namespace, name string) error {
	err := c.cs.AppsV1().StatefulSets(namespace).Delete(ctx, name, metav1.DeleteOptions{})
	return wrap(ignoreNotFound(err), "delete statefulset %s", name)
}

// --- Volumes ---

func (c *Client) CreatePVC(ctx context.Context, namespace string, spec model.PVCSpec) error {
	claim, err := pvcSpec(spec)
	if err != nil {
		return fmt.Errorf("create pvc %s: %w", spec.Name, err)
	}
	pvc := &corev1.PersistentVolumeClaim{
		ObjectMeta: metav1.ObjectMeta{
			Name:      spec.Name,
			Namespace: namespace,
			Labels:    map[string]string{"managed-by": managedBy},
		},
		Spec: claim,
	}
	_, err = c.cs.CoreV1().PersistentVolumeClaims(namespace).Create(ctx, pvc, metav1.CreateOptions{})
	return wrap(err, "create pvc %s", spec.Name)
}

func (c *Client) DeletePVC(ctx context.Context, namespace, name string) error {
	err := c.cs.CoreV1().PersistentVolumeClaims(namespace).Delete(ctx, name, metav1.DeleteOptions{})
	return wrap(ignoreNotFound(err), "delete pvc %s", name)
}

func pvcSpec(spec model.PVCSpec) (corev1.PersistentVolumeClaimSpec, error) {
	quantity, err := resource.ParseQuantity(spec.Size)
	if err != nil {
		return corev1.PersistentVolumeClaimSpec{}, fmt.Errorf("invalid size %q: %w", spec.Size, err)
	}
	mode := corev1.ReadWriteOnce
	if spec.AccessMode != "" {
		mode = corev1.PersistentVolumeAccessMode(spec.AccessMode)
	}
	claim := corev1.PersistentVolumeClaimSpec{
		AccessModes: []corev1.PersistentVolumeAccessMode{mode},
		Resources: corev1.VolumeResourceRequirements{
			Requests: corev1.ResourceList{corev1.ResourceStorage: quantity},
		},
	}
	if spec.StorageClass != "" {
		claim.StorageClassName = ptr(spec.StorageClass)
	}
	return claim, nil
}

func setImage(spec *corev1.PodSpec, image string) {
	if len(spec.Containers) == 0 {
		return
	}
	spec.Containers[0].Image = image
	spec.Containers[0].ImagePullPolicy = imagePullPolicy(image)
}

func applyUpdate(spec *corev1.PodSpec, upd model.WorkloadUpdate) error {
	if upd.Image != "" {
		setImage(spec, upd.Image)
	}
	if upd.NodeSelector != nil {
		spec.NodeSelector = upd.NodeSelector
	}
	if len(spec.Containers) == 0 {
		return nil
	}
	if upd.EnvVars != nil {
		spec.Containers[0].Env = envVars(upd.EnvVars)
	}
	if upd.Resources != nil {
		reqs, err := resourceRequirements(*upd.Resources)
		if err != nil {
			return err
		}
		spec.Containers[0].Resources = reqs
	}
	return nil
}
